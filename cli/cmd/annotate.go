package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gloss/adapter"
	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/cli/config"
	"github.com/pithecene-io/gloss/cli/render"
	"github.com/pithecene-io/gloss/lode"
	"github.com/pithecene-io/gloss/log"
	"github.com/pithecene-io/gloss/media"
	"github.com/pithecene-io/gloss/metadata"
	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/model"
	"github.com/pithecene-io/gloss/model/gemini"
	"github.com/pithecene-io/gloss/model/openai"
	"github.com/pithecene-io/gloss/runtime"
	"github.com/pithecene-io/gloss/task"
	"github.com/pithecene-io/gloss/tracker"
)

func selectorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "sport", Usage: "Only segments of this sport"},
		&cli.StringFlag{Name: "event", Usage: "Only segments of this event"},
		&cli.StringFlag{Name: "segment", Usage: "Only segments with this id"},
	}
}

func selectorFrom(c *cli.Context) runtime.Selector {
	return runtime.Selector{Sport: c.String("sport"), Event: c.String("event"), ID: c.String("segment")}
}

// AnnotateCommand returns the annotate command.
// This is the only command that calls the model.
func AnnotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "annotate",
		Usage: "Annotate pending tasks of every selected segment and merge into the outputs",
		Flags: withFlags(append(selectorFlags(),
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent segment workers (default: batch.workers)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show the plan without calling the model",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (default: random UUID)",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (- for stderr)",
			},
		)...),
		Action: annotateAction,
	}
}

// PlanCommand returns the plan command.
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:   "plan",
		Usage:  "Show which tasks each segment still needs",
		Flags:  withFlags(selectorFlags()...),
		Action: planAction,
	}
}

// collaboratorFactory builds the per-worker collaborators of an annotate
// run. Tests replace it.
var collaboratorFactory = newCollaboratorFactory

func newCollaboratorFactory(ctx context.Context, cfg *config.Config, runID string, logger *log.Logger, collector *metrics.Collector) (runtime.CollaboratorFactory, error) {
	if cfg.PromptsDir == "" {
		return nil, errors.New("prompts directory is required (prompts_dir)")
	}
	prompts := model.Templates{Dir: cfg.PromptsDir}
	if missing := prompts.Missing(); len(missing) > 0 {
		logger.Warn("prompt templates missing", map[string]any{"tasks": missing})
	}

	var (
		client   model.Client
		grounder model.Grounder
	)
	mc := cfg.Model
	switch mc.Provider {
	case "gemini":
		gc, err := gemini.New(ctx, gemini.Config{
			APIKey:            mc.APIKey,
			BaseURL:           mc.BaseURL,
			Model:             mc.Name,
			GroundingModel:    mc.GroundingModel,
			VideoFPS:          mc.VideoSamplingFPS,
			RequestsPerSecond: mc.RequestsPerSecond,
			PollInterval:      mc.PollInterval.Duration,
			Timeout:           mc.Timeout.Duration,
			MaxRetries:        mc.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		client, grounder = gc, gc
	case "openai":
		oc, err := openai.New(openai.Config{
			APIKey:  mc.APIKey,
			BaseURL: mc.BaseURL,
			Model:   mc.Name,
			Timeout: mc.Timeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		client = oc
		logger.Warn("provider has no grounding model, descriptions stay ungrounded", map[string]any{"provider": mc.Provider})
	default:
		return nil, fmt.Errorf("unknown model provider: %s", mc.Provider)
	}

	if cfg.Tracker.Command == "" {
		logger.Warn("no tracker configured, tracking tasks keep their first box only", nil)
	}
	frames := media.Extractor{FFmpeg: media.FFmpeg{Binary: cfg.Media.FFmpeg}}

	return func(_ context.Context, _ int) (runtime.Collaborators, func(), error) {
		collab := runtime.Collaborators{
			Client:   client,
			Prompts:  prompts,
			Grounder: grounder,
			Frames:   frames,
		}
		if cfg.Tracker.Command != "" {
			t, err := tracker.New(tracker.Config{
				Binary:  cfg.Tracker.Command,
				Args:    cfg.Tracker.Args,
				Timeout: cfg.Tracker.Timeout.Duration,
			}, runID, logger, collector)
			if err != nil {
				return runtime.Collaborators{}, nil, err
			}
			collab.Tracker = t
		}
		return collab, nil, nil
	}, nil
}

func storageBackend(cfg *config.Config) string {
	if cfg.Journal.Backend == "" {
		return "none"
	}
	return cfg.Journal.Backend
}

func annotateAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := requireRoots(cfg, true, true); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError(err)
	}
	selector := selectorFrom(c)

	if c.Bool("dry-run") {
		return renderPlans(r, cfg, selector)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := newLogger(cfg, lode.CommandAnnotate, runID)
	defer logger.Sync()
	collector := metrics.NewCollector(cfg.Model.Provider, cfg.Model.Name, storageBackend(cfg), runID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := collaboratorFactory(ctx, cfg, runID, logger, collector)
	if err != nil {
		return usageError(fmt.Errorf("annotate: %w", err))
	}

	op := runtime.NewBatchOperator(
		runtime.BatchConfig{RunID: runID, Workers: cfg.Batch.Workers, Selector: selector},
		runtime.SegmentConfig{
			DatasetRoot: cfg.DatasetRoot,
			OutputRoot:  cfg.OutputRoot,
			Registry:    task.NewRegistry(),
			Artifacts:   artifact.NewManager(cfg.Artifacts()),
			Logger:      logger,
			Collector:   collector,
		},
		factory,
	)

	started := time.Now().UTC()
	logger.Info("annotate started", map[string]any{
		"dataset_root": cfg.DatasetRoot,
		"output_root":  cfg.OutputRoot,
		"workers":      cfg.Batch.Workers,
		"model":        cfg.Model.Name,
	})
	result, runErr := op.Run(ctx, metadata.Iterate(cfg.DatasetRoot))
	if result == nil {
		finishRun(ctx, cfg, logger, collector, completion{
			run: lode.RunRecord{
				Command:   lode.CommandAnnotate,
				RunID:     runID,
				StartedAt: started,
				ExitCode:  exitFindings,
				Failures:  map[string]string{"run": runErr.Error()},
			},
			outcome: adapter.OutcomeError,
		})
		return cli.Exit(fmt.Sprintf("annotate: %v", runErr), exitFindings)
	}
	if result.Selected == 0 {
		logger.Warn(runtime.ErrNoSegments.Error(), nil)
	}

	exit := exitOK
	if runErr != nil || !result.Clean() {
		exit = exitFindings
	}
	report := runtime.BuildRunReport(result, collector.Snapshot(), exit)
	if path := c.String("report"); path != "" {
		if err := runtime.WriteRunReport(report, path); err != nil {
			logger.Warn("cannot write run report", map[string]any{"error": err.Error()})
		}
	}

	outcome := adapter.OutcomeSuccess
	if exit != exitOK {
		outcome = adapter.OutcomeFailures
	}
	finishRun(ctx, cfg, logger, collector, completion{
		run: lode.RunRecord{
			Command:     lode.CommandAnnotate,
			RunID:       runID,
			StartedAt:   started,
			CompletedAt: time.Now().UTC(),
			ExitCode:    exit,
			Counters:    annotateCounters(result),
			Failures:    annotateFailures(result),
		},
		outcome: outcome,
	})
	logger.Info("annotate finished", map[string]any{
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"exit_code": exit,
	})

	if err := renderRunReport(r, report); err != nil {
		return err
	}
	if runErr != nil {
		return cli.Exit(runErr.Error(), exit)
	}
	if exit != exitOK {
		return cli.Exit("", exit)
	}
	return nil
}

func annotateCounters(result *runtime.BatchResult) map[string]int64 {
	return map[string]int64{
		"selected":    result.Selected,
		"deduped":     result.Deduped,
		"processed":   result.Processed,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"load_errors": int64(len(result.LoadErrors)),
	}
}

// annotateFailures maps segment keys (and key/task for task failures) to
// their error text.
func annotateFailures(result *runtime.BatchResult) map[string]string {
	out := make(map[string]string)
	for i, e := range result.LoadErrors {
		out[fmt.Sprintf("load_error_%d", i)] = e
	}
	for _, s := range result.Segments {
		key := s.Key.String()
		if s.Err != nil {
			out[key] = s.Err.Error()
		}
		for _, o := range s.Outcomes {
			if !o.OK() {
				out[key+"/"+o.Task] = o.Reason
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func renderRunReport(r *render.Renderer, report *runtime.RunReport) error {
	if r.Format() != render.FormatTable {
		return r.Render(report)
	}
	if err := r.Render(report); err != nil {
		return err
	}
	r.Section("Segments")
	return r.Render(report.Segments)
}

// PlanRow is one segment in plan output.
type PlanRow struct {
	Segment   string   `json:"segment" yaml:"segment"`
	Run       []string `json:"run" yaml:"run"`
	Satisfied []string `json:"satisfied" yaml:"satisfied"`
	Unknown   []string `json:"unknown" yaml:"unknown"`
	Invalid   []string `json:"invalid" yaml:"invalid"`
	Error     string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func planAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := requireRoots(cfg, true, true); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError(err)
	}
	return renderPlans(r, cfg, selectorFrom(c))
}

// buildPlans plans every selected descriptor without calling the model.
func buildPlans(cfg *config.Config, selector runtime.Selector) []PlanRow {
	reg := task.NewRegistry()
	rows := []PlanRow{}
	for _, e := range metadata.Scan(cfg.DatasetRoot) {
		if !selector.Match(e.Key) {
			continue
		}
		row := PlanRow{Segment: e.Key.String()}
		if e.Err != nil {
			row.Error = e.Err.Error()
			rows = append(rows, row)
			continue
		}
		plan, err := runtime.Plan(reg, cfg.OutputRoot, e.Segment)
		if err != nil {
			row.Error = err.Error()
			rows = append(rows, row)
			continue
		}
		row.Run = plan.Run
		row.Satisfied = plan.Satisfied
		row.Unknown = plan.Unknown
		for _, rej := range plan.Invalid {
			row.Invalid = append(row.Invalid, rej.Task)
		}
		rows = append(rows, row)
	}
	return rows
}

func renderPlans(r *render.Renderer, cfg *config.Config, selector runtime.Selector) error {
	return r.Render(buildPlans(cfg, selector))
}
