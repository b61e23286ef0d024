package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("GLOSS_ROOT", "/data/clips")
	t.Setenv("GLOSS_EMPTY", "")

	tests := []struct {
		name, in, want string
	}{
		{"set", "dataset_root: ${GLOSS_ROOT}", "dataset_root: /data/clips"},
		{"unset", "api_key: ${GLOSS_UNSET_12345}", "api_key: "},
		{"default when unset", "workers: ${GLOSS_UNSET_12345:-4}", "workers: 4"},
		{"default ignored when set", "${GLOSS_ROOT:-/tmp}", "/data/clips"},
		{"default when empty", "${GLOSS_EMPTY:-fallback}", "fallback"},
		{"multiple", "${GLOSS_ROOT}:${GLOSS_UNSET_12345:-x}", "/data/clips:x"},
		{"no vars", "no variables here", "no variables here"},
		{"bare dollar", "$GLOSS_ROOT", "$GLOSS_ROOT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.in); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "secret")

	input := `adapter:
  headers:
    Authorization: Bearer ${HOOK_TOKEN}`
	want := `adapter:
  headers:
    Authorization: Bearer secret`

	if got := ExpandEnv(input); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestExpand_CustomLookup(t *testing.T) {
	env := map[string]string{"MODEL": "gemini-2.5-pro"}
	got := expand("name: ${MODEL}\nbase_url: ${BASE_URL:-https://example.test}", func(k string) string { return env[k] })
	if want := "name: gemini-2.5-pro\nbase_url: https://example.test"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
