package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

// Defaults applied to unset config values.
const (
	DefaultProvider       = "gemini"
	DefaultModel          = "gemini-2.5-flash"
	DefaultGroundingModel = "gemini-robotics-er-1.5-preview"
	DefaultVideoFPS       = 1.0
	DefaultWorkers        = 1
	DefaultJournalDataset = "gloss"
	DefaultLogLevel       = "info"
)

// Config represents a gloss.yaml configuration file.
// All values are optional; CLI flags always override config values.
type Config struct {
	DatasetRoot  string        `yaml:"dataset_root"`
	OutputRoot   string        `yaml:"output_root"`
	ArtifactRoot string        `yaml:"artifact_root"`
	PromptsDir   string        `yaml:"prompts_dir"`
	Model        ModelConfig   `yaml:"model"`
	Tracker      TrackerConfig `yaml:"tracker"`
	Media        MediaConfig   `yaml:"media"`
	Batch        BatchConfig   `yaml:"batch"`
	Sync         SyncConfig    `yaml:"sync"`
	Journal      JournalConfig `yaml:"journal"`
	Adapter      AdapterConfig `yaml:"adapter"`
	Logging      LoggingConfig `yaml:"logging"`
}

// ModelConfig selects and tunes the annotation model.
type ModelConfig struct {
	Provider          string   `yaml:"provider"`
	Name              string   `yaml:"name"`
	GroundingModel    string   `yaml:"grounding_model"`
	APIKey            string   `yaml:"api_key"`
	BaseURL           string   `yaml:"base_url"`
	VideoSamplingFPS  float64  `yaml:"video_sampling_fps"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Timeout           Duration `yaml:"timeout"`
	PollInterval      Duration `yaml:"poll_interval"`
	MaxRetries        int      `yaml:"max_retries"`
}

// TrackerConfig configures the external tracker process.
// An empty command disables tracking.
type TrackerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout Duration `yaml:"timeout"`
}

// MediaConfig configures frame extraction.
type MediaConfig struct {
	FFmpeg string `yaml:"ffmpeg"`
}

// BatchConfig configures batch annotation.
type BatchConfig struct {
	Workers int `yaml:"workers"`
}

// SyncConfig holds sync defaults.
type SyncConfig struct {
	PruneOrphans       bool `yaml:"prune_orphans"`
	DeleteEmptyOutputs bool `yaml:"delete_empty_outputs"`
}

// JournalConfig configures the run journal. An empty backend disables it.
type JournalConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig configures run notifications. An empty type disables them.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Stream  string            `yaml:"stream,omitempty"`
	Topic   string            `yaml:"topic,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Model.Provider == "" {
		c.Model.Provider = DefaultProvider
	}
	if c.Model.Name == "" && c.Model.Provider == DefaultProvider {
		c.Model.Name = DefaultModel
	}
	if c.Model.GroundingModel == "" {
		c.Model.GroundingModel = DefaultGroundingModel
	}
	if c.Model.VideoSamplingFPS == 0 {
		c.Model.VideoSamplingFPS = DefaultVideoFPS
	}
	if c.Model.APIKey == "" {
		c.Model.APIKey = os.Getenv(apiKeyEnv(c.Model.Provider))
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = DefaultWorkers
	}
	if c.Journal.Dataset == "" {
		c.Journal.Dataset = DefaultJournalDataset
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func apiKeyEnv(provider string) string {
	if provider == "openai" {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// Artifacts returns the artifact root, defaulting to the output root.
func (c *Config) Artifacts() string {
	if c.ArtifactRoot != "" {
		return c.ArtifactRoot
	}
	return c.OutputRoot
}

var (
	providers       = []string{"gemini", "openai"}
	journalBackends = []string{"fs", "s3"}
	adapterTypes    = []string{"webhook", "redis", "mqtt"}
	logLevels       = []string{"debug", "info", "warn", "error"}
)

// Validate checks value ranges and enums. Roots and credentials are checked
// by the commands that need them.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(providers, c.Model.Provider) {
		errs = append(errs, fmt.Errorf("model.provider %q must be one of %v", c.Model.Provider, providers))
	}
	if c.Model.VideoSamplingFPS < 0 {
		errs = append(errs, errors.New("model.video_sampling_fps must be positive"))
	}
	if c.Model.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("model.requests_per_second must not be negative"))
	}
	if c.Model.MaxRetries < 0 {
		errs = append(errs, errors.New("model.max_retries must not be negative"))
	}
	if c.Batch.Workers < 1 {
		errs = append(errs, fmt.Errorf("batch.workers must be at least 1, got %d", c.Batch.Workers))
	}
	if c.Journal.Backend != "" {
		if !slices.Contains(journalBackends, c.Journal.Backend) {
			errs = append(errs, fmt.Errorf("journal.backend %q must be one of %v", c.Journal.Backend, journalBackends))
		}
		if c.Journal.Path == "" {
			errs = append(errs, errors.New("journal.path is required when journal.backend is set"))
		}
	}
	if c.Adapter.Type != "" {
		if !slices.Contains(adapterTypes, c.Adapter.Type) {
			errs = append(errs, fmt.Errorf("adapter.type %q must be one of %v", c.Adapter.Type, adapterTypes))
		}
		if c.Adapter.URL == "" {
			errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
		}
		if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
			errs = append(errs, errors.New("adapter.retries must not be negative"))
		}
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q must be one of %v", c.Logging.Level, logLevels))
	}
	return errors.Join(errs...)
}
