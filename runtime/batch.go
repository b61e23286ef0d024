package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/log"
	"github.com/pithecene-io/gloss/types"
)

// BatchConfig configures the batch operator.
type BatchConfig struct {
	// RunID identifies the batch. Generated when empty.
	RunID string
	// Workers is the number of concurrent segment workers (minimum 1).
	Workers int
	// Selector restricts which segments are processed.
	Selector Selector
}

// Selector matches segment keys. Empty fields match everything.
type Selector struct {
	Sport string
	Event string
	ID    string
}

// Match reports whether key is selected.
func (s Selector) Match(key types.SegmentKey) bool {
	return (s.Sport == "" || s.Sport == key.Sport) &&
		(s.Event == "" || s.Event == key.Event) &&
		(s.ID == "" || s.ID == key.ID)
}

// CollaboratorFactory builds the collaborator set of one worker. The returned
// close function, if non-nil, is called when the worker exits.
type CollaboratorFactory func(ctx context.Context, worker int) (Collaborators, func(), error)

// BatchResult aggregates a batch run.
type BatchResult struct {
	RunID string `json:"run_id"`
	// Segments holds one result per processed segment, sorted by key.
	Segments []*SegmentResult `json:"segments"`
	// LoadErrors lists descriptors that could not be loaded.
	LoadErrors []string `json:"load_errors,omitempty"`

	Selected  int64         `json:"selected"`
	Deduped   int64         `json:"deduped"`
	Processed int64         `json:"processed"`
	Skipped   int64         `json:"skipped"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Clean reports whether every segment and every task succeeded.
func (r *BatchResult) Clean() bool {
	if r.Failed > 0 || len(r.LoadErrors) > 0 {
		return false
	}
	for _, s := range r.Segments {
		for _, o := range s.Outcomes {
			if !o.OK() {
				return false
			}
		}
	}
	return true
}

// BatchOperator runs segments through a pool of workers. Work is
// deduplicated by segment key before dispatch, so each output file has a
// single writer.
type BatchOperator struct {
	config  BatchConfig
	segment SegmentConfig
	factory CollaboratorFactory
}

// NewBatchOperator creates a batch operator.
func NewBatchOperator(config BatchConfig, segment SegmentConfig, factory CollaboratorFactory) *BatchOperator {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.RunID == "" {
		config.RunID = uuid.New().String()
	}
	if segment.Logger == nil {
		segment.Logger = log.Nop()
	}
	if segment.Artifacts == nil {
		segment.Artifacts = artifact.NewManager(segment.OutputRoot)
	}
	return &BatchOperator{config: config, segment: segment, factory: factory}
}

// RunID returns the batch run id.
func (b *BatchOperator) RunID() string { return b.config.RunID }

// Run processes every selected segment of segs. Descriptor load errors are
// collected and never stop the batch. A canceled context stops dispatch;
// segments already running finish their current task.
func (b *BatchOperator) Run(ctx context.Context, segs iter.Seq2[*types.Segment, error]) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{RunID: b.config.RunID}

	var queue []*types.Segment
	seen := make(map[types.SegmentKey]struct{})
	for seg, err := range segs {
		if err != nil {
			result.LoadErrors = append(result.LoadErrors, err.Error())
			b.segment.Logger.Warn("skipping descriptor", map[string]any{"error": err.Error()})
			continue
		}
		key := seg.Key()
		if !b.config.Selector.Match(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			result.Deduped++
			continue
		}
		seen[key] = struct{}{}
		queue = append(queue, seg)
	}
	result.Selected = int64(len(queue))

	workers := min(b.config.Workers, max(len(queue), 1))
	runners := make([]*SegmentRunner, 0, workers)
	var closers []func()
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	for i := range workers {
		collab, closeFn, err := b.factory(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
		r, err := NewSegmentRunner(b.segment, collab)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		runners = append(runners, r)
	}

	var processed, skipped, failed atomic.Int64
	work := make(chan int)
	results := make([]*SegmentResult, len(queue))
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *SegmentRunner) {
			defer wg.Done()
			for i := range work {
				res := r.Process(ctx, queue[i])
				results[i] = res
				switch res.Status {
				case SegmentProcessed:
					processed.Add(1)
				case SegmentSkipped:
					skipped.Add(1)
				case SegmentFailed:
					failed.Add(1)
				}
			}
		}(r)
	}

dispatch:
	for i := range queue {
		select {
		case work <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	for _, res := range results {
		if res != nil {
			result.Segments = append(result.Segments, res)
		}
	}
	sort.Slice(result.Segments, func(i, j int) bool {
		return result.Segments[i].Key.Less(result.Segments[j].Key)
	})
	result.Processed = processed.Load()
	result.Skipped = skipped.Load()
	result.Failed = failed.Load()
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("batch interrupted: %w", err)
	}
	return result, nil
}

// ErrNoSegments is returned by callers that require at least one selected segment.
var ErrNoSegments = errors.New("no segments selected")
