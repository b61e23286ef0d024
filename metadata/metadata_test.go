package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/gloss/types"
)

func writeDescriptor(t *testing.T, root, sport, event, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(root, sport, event, dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const clipBody = `{
  "id": "1",
  "origin": {"sport": "soccer", "event": "derby"},
  "info": {"original_starting_frame": 120, "total_frames": 50, "fps": 25, "duration_sec": 2.0},
  "tasks_to_annotate": ["ScoreboardSingle", " Object_Tracking ", "ScoreboardSingle", ""]
}`

func TestLoad_ValidClip(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, "soccer", "derby", "clips", "1.json", clipBody)

	seg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if seg.ID != "1" {
		t.Errorf("ID = %q, want %q", seg.ID, "1")
	}
	if seg.Kind() != types.KindClip {
		t.Errorf("Kind() = %s, want clip", seg.Kind())
	}
	if seg.Info.StartingFrame != 120 || seg.Info.TotalFrames != 50 || seg.Info.FPS != 25 {
		t.Errorf("Info = %+v", seg.Info)
	}
	want := []string{"ScoreboardSingle", "Object_Tracking"}
	if len(seg.Tasks) != len(want) {
		t.Fatalf("Tasks = %v, want %v", seg.Tasks, want)
	}
	for i := range want {
		if seg.Tasks[i] != want[i] {
			t.Errorf("Tasks[%d] = %q, want %q", i, seg.Tasks[i], want[i])
		}
	}
}

func TestLoad_InfersOriginFromLayout(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, "tennis", "open", "frames", "9.json",
		`{"id": 9, "info": {"original_starting_frame": 0, "total_frames": 1, "fps": 30}, "task_to_annotate": ["ScoreboardSingle"]}`)

	seg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if seg.ID != "9" {
		t.Errorf("ID = %q, want %q", seg.ID, "9")
	}
	if seg.Origin != (types.Origin{Sport: "tennis", Event: "open"}) {
		t.Errorf("Origin = %+v", seg.Origin)
	}
	if seg.Kind() != types.KindFrame {
		t.Errorf("Kind() = %s, want frame", seg.Kind())
	}
	if len(seg.Tasks) != 1 {
		t.Errorf("legacy task key not honoured: %v", seg.Tasks)
	}
}

func TestLoad_EmptyTasksLoadsButIsIneligible(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, "s", "e", "clips", "2.json",
		`{"id": "2", "info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}}`)

	seg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if seg.Eligible() {
		t.Error("segment without tasks should not be eligible")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		dir   string
		body  string
		check func(error) bool
	}{
		{
			name:  "malformed json",
			dir:   "clips",
			body:  `{"id": `,
			check: func(err error) bool { var e *ParseError; return errors.As(err, &e) },
		},
		{
			name:  "not an object",
			dir:   "clips",
			body:  `[1, 2]`,
			check: func(err error) bool { var e *ParseError; return errors.As(err, &e) },
		},
		{
			name:  "missing id",
			dir:   "clips",
			body:  `{"info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "id" },
		},
		{
			name:  "id with slash",
			dir:   "clips",
			body:  `{"id": "a/b", "info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "id" },
		},
		{
			name:  "zero fps",
			dir:   "clips",
			body:  `{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 10, "fps": 0}}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "info.fps" },
		},
		{
			name:  "negative start",
			dir:   "clips",
			body:  `{"id": "1", "info": {"original_starting_frame": -1, "total_frames": 10, "fps": 10}}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "info.original_starting_frame" },
		},
		{
			name:  "single frame in clips dir",
			dir:   "clips",
			body:  `{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 1, "fps": 10}}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "info.total_frames" },
		},
		{
			name:  "origin disagrees with layout",
			dir:   "clips",
			body:  `{"id": "1", "origin": {"sport": "other", "event": "e"}, "info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "origin" },
		},
		{
			name:  "tasks not a list",
			dir:   "clips",
			body:  `{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}, "tasks_to_annotate": "X"}`,
			check: func(err error) bool { var e *SchemaError; return errors.As(err, &e) && e.Field == "tasks_to_annotate" },
		},
		{
			name: "duration mismatch",
			dir:  "clips",
			body: `{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 50, "fps": 25, "duration_sec": 2.5}}`,
			check: func(err error) bool {
				var e *ConsistencyError
				return errors.As(err, &e) && e.Declared == 2.5 && e.Computed == 2
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := writeDescriptor(t, root, "s", "e", tt.dir, "1.json", tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error type: %T %v", err, err)
			}
		})
	}
}

func TestLoad_DurationWithinTolerance(t *testing.T) {
	root := t.TempDir()
	path := writeDescriptor(t, root, "s", "e", "clips", "1.json",
		`{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 50, "fps": 25, "duration_sec": 2.08}}`)
	if _, err := Load(path); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestIterate_SortedAndRestartable(t *testing.T) {
	root := t.TempDir()
	info := `"info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}`
	writeDescriptor(t, root, "b", "e", "clips", "1.json", `{"id": "1", `+info+`}`)
	writeDescriptor(t, root, "a", "e", "clips", "10.json", `{"id": "10", `+info+`}`)
	writeDescriptor(t, root, "a", "e", "clips", "2.json", `{"id": "2", `+info+`}`)
	writeDescriptor(t, root, "a", "e", "frames", "1.json",
		`{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 1, "fps": 10}}`)
	writeDescriptor(t, root, "a", "e", "clips", "bad.json", `{`)

	collect := func() ([]string, int) {
		var ids []string
		errs := 0
		for seg, err := range Iterate(root) {
			if err != nil {
				errs++
				continue
			}
			ids = append(ids, seg.Key().String())
		}
		return ids, errs
	}

	ids, errs := collect()
	want := []string{"a/e/clip/2", "a/e/clip/10", "a/e/frame/1", "b/e/clip/1"}
	if errs != 1 {
		t.Errorf("errs = %d, want 1", errs)
	}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	writeDescriptor(t, root, "c", "e", "clips", "1.json", `{"id": "1", `+info+`}`)
	again, _ := collect()
	if len(again) != len(want)+1 {
		t.Errorf("second iteration did not re-scan: %v", again)
	}
}

func TestIterate_KindFilter(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "a", "e", "clips", "1.json",
		`{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 10, "fps": 10}}`)
	writeDescriptor(t, root, "a", "e", "frames", "1.json",
		`{"id": "1", "info": {"original_starting_frame": 0, "total_frames": 1, "fps": 10}}`)

	n := 0
	for seg, err := range Iterate(root, types.KindFrame) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seg.Kind() != types.KindFrame {
			t.Errorf("got kind %s", seg.Kind())
		}
		n++
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestScan_FallbackKeyForBrokenDescriptor(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "a", "e", "clips", "file.json", `{"id": 7, "info": "broken"}`)

	entries := Scan(root)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Err == nil {
		t.Fatal("expected load error")
	}
	want := types.SegmentKey{Sport: "a", Event: "e", Kind: types.KindClip, ID: "7"}
	if e.Key != want {
		t.Errorf("Key = %+v, want %+v", e.Key, want)
	}
}
