package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gloss.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertEqual[T comparable](t *testing.T, field string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "k-123")
	yaml := `dataset_root: /data/clips
output_root: /data/out
artifact_root: /data/artifacts
prompts_dir: ./prompts

model:
  provider: gemini
  name: gemini-2.5-pro
  api_key: ${TEST_GEMINI_KEY}
  video_sampling_fps: 2
  requests_per_second: 0.5
  timeout: 2m
  poll_interval: 5s
  max_retries: 3

tracker:
  command: python3
  args: [track.py, --device, cpu]
  timeout: 10m

media:
  ffmpeg: /usr/bin/ffmpeg

batch:
  workers: 4

sync:
  prune_orphans: true
  delete_empty_outputs: true

journal:
  backend: s3
  path: my-bucket/journal
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

adapter:
  type: mqtt
  url: tcp://broker:1883
  topic: gloss/runs
  timeout: 10s
  retries: 2

logging:
  level: debug
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "dataset_root", cfg.DatasetRoot, "/data/clips")
	assertEqual(t, "artifacts", cfg.Artifacts(), "/data/artifacts")
	assertEqual(t, "prompts_dir", cfg.PromptsDir, "./prompts")

	assertEqual(t, "model.name", cfg.Model.Name, "gemini-2.5-pro")
	assertEqual(t, "model.grounding_model", cfg.Model.GroundingModel, DefaultGroundingModel)
	assertEqual(t, "model.api_key", cfg.Model.APIKey, "k-123")
	assertEqual(t, "model.video_sampling_fps", cfg.Model.VideoSamplingFPS, 2.0)
	assertEqual(t, "model.requests_per_second", cfg.Model.RequestsPerSecond, 0.5)
	assertEqual(t, "model.timeout", cfg.Model.Timeout.Duration, 2*time.Minute)
	assertEqual(t, "model.poll_interval", cfg.Model.PollInterval.Duration, 5*time.Second)
	assertEqual(t, "model.max_retries", cfg.Model.MaxRetries, 3)

	assertEqual(t, "tracker.command", cfg.Tracker.Command, "python3")
	assertEqual(t, "tracker.args", strings.Join(cfg.Tracker.Args, " "), "track.py --device cpu")
	assertEqual(t, "tracker.timeout", cfg.Tracker.Timeout.Duration, 10*time.Minute)
	assertEqual(t, "media.ffmpeg", cfg.Media.FFmpeg, "/usr/bin/ffmpeg")
	assertEqual(t, "batch.workers", cfg.Batch.Workers, 4)

	if !cfg.Sync.PruneOrphans || !cfg.Sync.DeleteEmptyOutputs {
		t.Errorf("sync = %+v", cfg.Sync)
	}

	assertEqual(t, "journal.dataset", cfg.Journal.Dataset, DefaultJournalDataset)
	assertEqual(t, "journal.backend", cfg.Journal.Backend, "s3")
	assertEqual(t, "journal.path", cfg.Journal.Path, "my-bucket/journal")
	if !cfg.Journal.S3PathStyle {
		t.Error("expected journal.s3_path_style=true")
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "mqtt")
	assertEqual(t, "adapter.topic", cfg.Adapter.Topic, "gloss/runs")
	assertEqual(t, "adapter.timeout", cfg.Adapter.Timeout.Duration, 10*time.Second)
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 2 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}
	assertEqual(t, "logging.level", cfg.Logging.Level, "debug")

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load(writeTemp(t, "output_root: /out\n"))
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "provider", cfg.Model.Provider, DefaultProvider)
	assertEqual(t, "model", cfg.Model.Name, DefaultModel)
	assertEqual(t, "fps", cfg.Model.VideoSamplingFPS, DefaultVideoFPS)
	assertEqual(t, "api_key", cfg.Model.APIKey, "env-key")
	assertEqual(t, "workers", cfg.Batch.Workers, DefaultWorkers)
	assertEqual(t, "artifacts", cfg.Artifacts(), "/out")
	assertEqual(t, "level", cfg.Logging.Level, DefaultLogLevel)
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_OpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := &Config{Model: ModelConfig{Provider: "openai"}}
	cfg.ApplyDefaults()
	assertEqual(t, "api_key", cfg.Model.APIKey, "sk-test")
	assertEqual(t, "name", cfg.Model.Name, "")
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file: err = %v", err)
	}
	if _, err := Load(writeTemp(t, "model: [unclosed")); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("bad yaml: err = %v", err)
	}
	if _, err := Load(writeTemp(t, "model:\n  timeout: soon\n")); err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("bad duration: err = %v", err)
	}
}

func TestResolve_NoPathNoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "workers", cfg.Batch.Workers, DefaultWorkers)
}

func TestResolve_DefaultFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultPath), []byte("batch:\n  workers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	cfg, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "workers", cfg.Batch.Workers, 3)
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"provider", func(c *Config) { c.Model.Provider = "claude" }, "model.provider"},
		{"workers", func(c *Config) { c.Batch.Workers = -2 }, "batch.workers"},
		{"journal backend", func(c *Config) { c.Journal.Backend = "gcs"; c.Journal.Path = "x" }, "journal.backend"},
		{"journal path", func(c *Config) { c.Journal.Backend = "fs" }, "journal.path"},
		{"adapter type", func(c *Config) { c.Adapter.Type = "kafka"; c.Adapter.URL = "x" }, "adapter.type"},
		{"adapter url", func(c *Config) { c.Adapter.Type = "webhook" }, "adapter.url"},
		{"adapter retries", func(c *Config) { c.Adapter.Type = "redis"; c.Adapter.URL = "redis://x"; c.Adapter.Retries = &neg }, "adapter.retries"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"fps", func(c *Config) { c.Model.VideoSamplingFPS = -1 }, "video_sampling_fps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}
