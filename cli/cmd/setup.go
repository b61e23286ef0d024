package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/adapter"
	"github.com/pithecene-io/gloss/adapter/mqtt"
	"github.com/pithecene-io/gloss/adapter/redis"
	"github.com/pithecene-io/gloss/adapter/webhook"
	"github.com/pithecene-io/gloss/cli/config"
	"github.com/pithecene-io/gloss/iox"
	"github.com/pithecene-io/gloss/lode"
	"github.com/pithecene-io/gloss/log"
	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/prune"
)

// usageError maps err to exit code 2.
func usageError(err error) error {
	return cli.Exit(err.Error(), exitUsage)
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, usageError(err)
	}
	if v := c.String("dataset-root"); v != "" {
		cfg.DatasetRoot = v
	}
	if v := c.String("output-root"); v != "" {
		cfg.OutputRoot = v
	}
	if v := c.String("artifact-root"); v != "" {
		cfg.ArtifactRoot = v
	}
	if c.IsSet("workers") {
		cfg.Batch.Workers = c.Int("workers")
	}
	if c.IsSet("prune-orphans") {
		cfg.Sync.PruneOrphans = c.Bool("prune-orphans")
	}
	if c.IsSet("delete-empty-outputs") {
		cfg.Sync.DeleteEmptyOutputs = c.Bool("delete-empty-outputs")
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError(fmt.Errorf("invalid config: %w", err))
	}
	return cfg, nil
}

// requireRoots checks that the named roots are configured.
func requireRoots(cfg *config.Config, dataset, output bool) error {
	var errs []error
	if dataset && cfg.DatasetRoot == "" {
		errs = append(errs, errors.New("dataset root is required (--dataset-root or dataset_root)"))
	}
	if output && cfg.OutputRoot == "" {
		errs = append(errs, errors.New("output root is required (--output-root or output_root)"))
	}
	if err := errors.Join(errs...); err != nil {
		return usageError(err)
	}
	return nil
}

// rejectTUI fails commands without a TUI view.
func rejectTUI(c *cli.Context) error {
	if c.Bool("tui") {
		return usageError(fmt.Errorf("--tui is not supported for %s command", c.Command.Name))
	}
	return nil
}

// openJournal opens the configured journal, or returns nil when none is.
func openJournal(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*lode.Journal, error) {
	jc := cfg.Journal
	lc := lode.Config{Dataset: jc.Dataset, Backend: jc.Backend, Metrics: collector}
	switch jc.Backend {
	case "":
		return nil, nil
	case "fs":
		if err := os.MkdirAll(jc.Path, 0o755); err != nil {
			return nil, lode.WrapInitError(err, jc.Path)
		}
		return lode.NewFSJournal(lc, jc.Path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(jc.Path)
		return lode.NewS3Journal(ctx, lc, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       jc.Region,
			Endpoint:     jc.Endpoint,
			UsePathStyle: jc.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown journal backend: %s (must be fs or s3)", jc.Backend)
	}
}

// openAdapter builds the configured notification adapter, or returns nil
// when none is.
func openAdapter(cfg *config.Config, runID string) (adapter.Adapter, error) {
	ac := cfg.Adapter
	retries := 0
	if ac.Retries != nil {
		retries = *ac.Retries
	}
	switch ac.Type {
	case "":
		return nil, nil
	case "webhook":
		if ac.Retries == nil {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Stream:  ac.Stream,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "mqtt":
		return mqtt.New(mqtt.Config{
			URL:      ac.URL,
			Topic:    ac.Topic,
			ClientID: "gloss-" + runID,
			Timeout:  ac.Timeout.Duration,
			Retries:  retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook, redis or mqtt)", ac.Type)
	}
}

// completion is what a mutating command reports when it finishes.
type completion struct {
	run     lode.RunRecord
	outcome string
	changes []prune.Change
}

// finishRun journals the run and publishes its completion event. Journal
// and adapter failures are logged and never change the exit code.
func finishRun(ctx context.Context, cfg *config.Config, logger *log.Logger, collector *metrics.Collector, done completion) {
	ctx = context.WithoutCancel(ctx)
	run := done.run
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now().UTC()
	}

	journalID := ""
	journal, err := openJournal(ctx, cfg, collector)
	if err != nil {
		logger.Warn("journal unavailable", map[string]any{"error": err.Error()})
	}
	if journal != nil {
		defer iox.DiscardClose(journal)
		if err := journal.Record(ctx, run, done.changes); err != nil {
			logger.Warn("journal write failed", map[string]any{"error": err.Error()})
		} else {
			journalID = string(journal.Dataset().ID())
		}
	}

	pub, err := openAdapter(cfg, run.RunID)
	if err != nil {
		logger.Warn("adapter unavailable", map[string]any{"error": err.Error()})
		return
	}
	if pub == nil {
		return
	}
	defer iox.DiscardClose(pub)

	event := &adapter.RunCompletedEvent{
		EventType:  adapter.EventTypeRunCompleted,
		Command:    run.Command,
		RunID:      run.RunID,
		Day:        run.StartedAt.UTC().Format("2006-01-02"),
		Outcome:    done.outcome,
		ExitCode:   run.ExitCode,
		OutputRoot: cfg.OutputRoot,
		Timestamp:  run.CompletedAt.UTC().Format(time.RFC3339),
		DurationMs: run.Duration().Milliseconds(),
		Counters:   run.Counters,
		Journal:    journalID,
	}
	if err := pub.Publish(ctx, event); err != nil {
		logger.Warn("run_completed publish failed", map[string]any{"type": cfg.Adapter.Type, "error": err.Error()})
		return
	}
	logger.Info("run_completed published", map[string]any{"type": cfg.Adapter.Type, "outcome": done.outcome})
}

// newLogger builds the command logger at the configured level.
func newLogger(cfg *config.Config, command, runID string) *log.Logger {
	return log.NewLogger(log.RunContext{RunID: runID, Command: command}, cfg.Logging.Level)
}
