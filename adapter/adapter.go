// Package adapter publishes run completion notifications to downstream
// systems. The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// EventTypeRunCompleted is the event_type of every published event.
const EventTypeRunCompleted = "run_completed"

// Run outcomes.
const (
	// OutcomeSuccess means every segment and task succeeded, or sync found
	// nothing to change.
	OutcomeSuccess = "success"
	// OutcomeFailures means annotate finished with failed tasks or segments.
	OutcomeFailures = "failures"
	// OutcomeChanges means sync found (or applied) changes.
	OutcomeChanges = "changes"
	// OutcomeIssues means sync found paths it could not process.
	OutcomeIssues = "issues"
	// OutcomeError means the command aborted.
	OutcomeError = "error"
)

// RunCompletedEvent is the payload published when annotate or sync finishes.
type RunCompletedEvent struct {
	EventType  string           `json:"event_type"`
	Command    string           `json:"command"`
	RunID      string           `json:"run_id"`
	Day        string           `json:"day"`
	Outcome    string           `json:"outcome"`
	ExitCode   int              `json:"exit_code"`
	OutputRoot string           `json:"output_root"`
	Timestamp  string           `json:"timestamp"` // RFC 3339
	DurationMs int64            `json:"duration_ms"`
	Counters   map[string]int64 `json:"counters,omitempty"`
	// Journal is the journal dataset holding the run record, if any.
	Journal string `json:"journal,omitempty"`
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends a run completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
