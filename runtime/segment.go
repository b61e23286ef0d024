// Package runtime runs annotation tasks for segments and merges their
// results into the per-segment output records.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/log"
	"github.com/pithecene-io/gloss/media"
	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/model"
	"github.com/pithecene-io/gloss/record"
	"github.com/pithecene-io/gloss/task"
	"github.com/pithecene-io/gloss/types"
)

// Collaborators are the external services one worker talks to.
// Client and Prompts are required; the rest are optional and their absence
// leaves descriptions ungrounded.
type Collaborators struct {
	Client   model.Client
	Prompts  model.PromptSource
	Grounder model.Grounder
	Tracker  model.Tracker
	Frames   model.FrameExtractor
}

// SegmentConfig configures a SegmentRunner.
type SegmentConfig struct {
	DatasetRoot string
	OutputRoot  string
	// Registry defaults to task.NewRegistry().
	Registry *task.Registry
	// Artifacts defaults to a manager rooted at OutputRoot.
	Artifacts *artifact.Manager
	Logger    *log.Logger
	Collector *metrics.Collector
}

// SegmentStatus classifies how processing of one segment ended.
type SegmentStatus string

// Segment statuses.
const (
	SegmentProcessed SegmentStatus = "processed"
	SegmentSkipped   SegmentStatus = "skipped"
	SegmentFailed    SegmentStatus = "failed"
)

// SegmentResult is the outcome of processing one segment.
type SegmentResult struct {
	Key        types.SegmentKey `json:"key"`
	Status     SegmentStatus    `json:"status"`
	OutputPath string           `json:"output_path"`
	Plan       task.Plan        `json:"plan"`
	Outcomes   []task.Outcome   `json:"-"`
	// Reconcile reports side files released by superseded annotations.
	Reconcile artifact.Result `json:"reconcile"`
	Duration  time.Duration   `json:"duration"`
	Err       error           `json:"-"`
}

// Succeeded returns the names of tasks that produced an annotation.
func (r *SegmentResult) Succeeded() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, o.Task)
		}
	}
	return out
}

// SegmentRunner executes plan, tasks, merge, save and reconcile for one
// segment at a time. It is not safe for concurrent use.
type SegmentRunner struct {
	cfg    SegmentConfig
	collab Collaborators
}

// NewSegmentRunner creates a runner.
func NewSegmentRunner(cfg SegmentConfig, collab Collaborators) (*SegmentRunner, error) {
	if collab.Client == nil {
		return nil, errors.New("model client is required")
	}
	if collab.Prompts == nil {
		return nil, errors.New("prompt source is required")
	}
	if cfg.OutputRoot == "" {
		return nil, errors.New("output root is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = task.NewRegistry()
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = artifact.NewManager(cfg.OutputRoot)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &SegmentRunner{cfg: cfg, collab: collab}, nil
}

// Plan loads the existing output of seg and plans it without running anything.
func Plan(reg *task.Registry, outputRoot string, seg *types.Segment) (task.Plan, error) {
	existing, err := record.LoadExisting(record.Path(outputRoot, seg.Key()))
	if err != nil {
		return task.Plan{}, err
	}
	return reg.Plan(seg, existing), nil
}

// Process runs every task seg still needs and persists the merged output.
// Task failures are recorded as outcomes; only output load or save failures
// fail the segment.
func (r *SegmentRunner) Process(ctx context.Context, seg *types.Segment) *SegmentResult {
	start := time.Now()
	key := seg.Key()
	logger := r.cfg.Logger.WithSegment(key)
	res := &SegmentResult{Key: key, OutputPath: record.Path(r.cfg.OutputRoot, key)}
	defer func() { res.Duration = time.Since(start) }()

	r.cfg.Collector.IncSegmentSeen()

	if !seg.Eligible() {
		logger.Info("segment has no requested tasks", nil)
		res.Status = SegmentSkipped
		r.cfg.Collector.IncSegmentSkipped()
		return res
	}

	existing, err := record.LoadExisting(res.OutputPath)
	if err != nil {
		logger.Error("cannot load existing output", map[string]any{"error": err.Error()})
		return r.fail(res, err)
	}

	res.Plan = r.cfg.Registry.Plan(seg, existing)
	for _, name := range res.Plan.Unknown {
		logger.Warn("unknown task requested", map[string]any{"task": name})
		r.cfg.Collector.IncTaskUnknown()
	}
	for _, rej := range res.Plan.Invalid {
		logger.Warn("existing annotation invalid, re-running", map[string]any{"task": rej.Task, "reason": rej.Reason})
	}
	if res.Plan.Done() {
		logger.Debug("all requested tasks satisfied", map[string]any{"satisfied": res.Plan.Satisfied})
		res.Status = SegmentSkipped
		r.cfg.Collector.IncSegmentSkipped()
		return res
	}

	res.Outcomes = r.runTasks(ctx, seg, res.Plan.Run, logger)

	var fresh []types.Annotation
	for _, o := range res.Outcomes {
		switch o.Status {
		case task.StatusSuccess:
			r.cfg.Collector.IncTaskSucceeded()
			fresh = append(fresh, o.Annotation)
		case task.StatusValidationFailed:
			r.cfg.Collector.IncTaskRejected(o.Task)
			logger.Warn("annotation rejected", map[string]any{"task": o.Task, "reason": o.Reason})
		case task.StatusCollaboratorError:
			r.cfg.Collector.IncTaskFailed(o.Task)
			logger.Error("task failed", map[string]any{"task": o.Task, "error": o.Reason})
		}
	}

	if len(fresh) == 0 {
		res.Status = SegmentProcessed
		r.cfg.Collector.IncSegmentProcessed()
		return res
	}

	merged := record.Merge(existing, fresh, seg)
	if err := record.Save(res.OutputPath, merged.Output); err != nil {
		logger.Error("cannot save output", map[string]any{"error": err.Error()})
		return r.fail(res, err)
	}
	logger.Info("output saved", map[string]any{
		"annotations": len(merged.Output.Annotations),
		"replaced":    merged.Replaced,
	})

	res.Reconcile = r.cfg.Artifacts.Reconcile(merged.Removed, merged.Retained, true)
	for _, e := range res.Reconcile.Errors {
		logger.Warn("cannot delete tracking file", map[string]any{"ref": e.Ref, "error": e.Err.Error()})
	}

	res.Status = SegmentProcessed
	r.cfg.Collector.IncSegmentProcessed()
	return res
}

func (r *SegmentRunner) fail(res *SegmentResult, err error) *SegmentResult {
	res.Status = SegmentFailed
	res.Err = err
	r.cfg.Collector.IncSegmentFailed()
	return res
}

// runTasks uploads the segment media once and runs each task against it.
// The upload is always cleaned up.
func (r *SegmentRunner) runTasks(ctx context.Context, seg *types.Segment, names []string, logger *log.Logger) []task.Outcome {
	outcomes := make([]task.Outcome, 0, len(names))

	m := model.Media{Path: seg.MediaPath(r.cfg.DatasetRoot), MIMEType: media.MIMEType(seg.Kind())}
	h, err := r.collab.Client.Upload(ctx, m)
	if err != nil {
		logger.Error("upload failed", map[string]any{"path": m.Path, "error": err.Error()})
		for _, name := range names {
			outcomes = append(outcomes, task.Failed(name, fmt.Errorf("upload: %w", err)))
		}
		return outcomes
	}
	defer func() {
		// The run context may already be done; cleanup still gets its chance.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.collab.Client.Cleanup(cctx, h); err != nil {
			logger.Warn("cleanup failed", map[string]any{"handle": h.Name, "error": err.Error()})
		}
	}()

	for _, name := range names {
		if ctx.Err() != nil {
			outcomes = append(outcomes, task.Failed(name, ctx.Err()))
			continue
		}
		o := r.runTask(ctx, seg, name, h, logger)
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (r *SegmentRunner) runTask(ctx context.Context, seg *types.Segment, name string, h *model.Handle, logger *log.Logger) task.Outcome {
	k := task.Parse(name)

	prompt, err := r.collab.Prompts.Prompt(name, model.SegmentVars(seg))
	if err != nil {
		return task.Failed(name, err)
	}

	answer, err := r.collab.Client.Annotate(ctx, h, prompt)
	if err != nil {
		return task.Failed(name, fmt.Errorf("annotate: %w", err))
	}

	fields := payload(answer)
	p, err := r.postProcess(ctx, seg, k, fields)
	if err != nil {
		return task.Failed(name, err)
	}
	for _, w := range p.warnings {
		logger.Warn(w, map[string]any{"task": name})
	}

	a := types.Annotation{
		TaskL1:   string(k.Category()),
		TaskL2:   name,
		Reviewed: false,
		Fields:   p.fields,
	}
	if ok, reason := r.cfg.Registry.Validate(name, a); !ok {
		return task.Rejected(name, reason)
	}

	a, err = r.cfg.Artifacts.Materialize(a, p.tracking, seg.Key())
	if err != nil {
		return task.Failed(name, err)
	}
	return task.Succeeded(name, a)
}

// payload strips lifecycle keys a model may echo back. Side file refs are
// only ever written by the artifact manager, so any ref in an answer is
// dropped along with them.
func payload(answer map[string]any) map[string]any {
	out := make(map[string]any, len(answer))
	for k, v := range answer {
		switch k {
		case types.KeyAnnotationID, types.KeyTaskL1, types.KeyTaskL2, types.KeyReviewed,
			types.KeyMOTFile, types.KeyTrackingRef:
			continue
		case types.KeyTrackingBBoxes:
			if tb, ok := v.(map[string]any); ok {
				if _, isRef := tb[types.KeyMOTFile]; isRef {
					continue
				}
			}
		}
		out[k] = types.CloneValue(v)
	}
	return out
}
