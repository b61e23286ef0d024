package lode

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/pithecene-io/gloss/prune"
	"github.com/pithecene-io/gloss/types"
)

// Record kind discriminator values, also the record_kind partition.
const (
	RecordKindRun    = "run"
	RecordKindChange = "change"
)

// Commands recorded in the journal.
const (
	CommandAnnotate = "annotate"
	CommandSync     = "sync"
)

// ErrMissingRunID is returned when a run record has no run id.
var ErrMissingRunID = errors.New("journal record rejected: missing run_id")

// dayLayout formats the day partition (UTC).
const dayLayout = "2006-01-02"

// RunRecord summarizes one annotate or sync invocation.
type RunRecord struct {
	RecordKind    string    `json:"record_kind"`
	SchemaVersion string    `json:"schema_version"`
	Command       string    `json:"command"`
	RunID         string    `json:"run_id"`
	Day           string    `json:"day"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	ExitCode      int       `json:"exit_code"`
	// Apply is set for sync runs that mutated files.
	Apply bool `json:"apply,omitempty"`
	// Counters holds the command's counters keyed by their report names.
	Counters map[string]int64 `json:"counters,omitempty"`
	// Failures maps segment keys or paths to their error text.
	Failures map[string]string `json:"failures,omitempty"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration { return r.CompletedAt.Sub(r.StartedAt) }

// ChangeRecord is one sync change stored under its run.
type ChangeRecord struct {
	RecordKind      string   `json:"record_kind"`
	Command         string   `json:"command"`
	RunID           string   `json:"run_id"`
	Day             string   `json:"day"`
	Seq             int      `json:"seq"`
	OutputPath      string   `json:"output_path"`
	Kind            string   `json:"kind"`
	RemovedTasks    []string `json:"removed_tasks"`
	KeptTasks       []string `json:"kept_tasks"`
	RemovedMOTFiles []string `json:"removed_mot_files"`
}

// Change converts the record back into a sync change.
func (r ChangeRecord) Change() prune.Change {
	return prune.Change{
		OutputPath:      r.OutputPath,
		Kind:            prune.ChangeKind(r.Kind),
		RemovedTasks:    r.RemovedTasks,
		KeptTasks:       r.KeptTasks,
		RemovedMOTFiles: r.RemovedMOTFiles,
	}
}

func day(run RunRecord) string {
	if run.Day != "" {
		return run.Day
	}
	return run.StartedAt.UTC().Format(dayLayout)
}

// toRunRecordMap converts a run record to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toRunRecordMap(run RunRecord) map[string]any {
	m := map[string]any{
		"record_kind":    RecordKindRun,
		"schema_version": types.JournalSchemaVersion,
		"command":        run.Command,
		"run_id":         run.RunID,
		"day":            day(run),
		"started_at":     run.StartedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":   run.CompletedAt.UTC().Format(time.RFC3339Nano),
		"exit_code":      run.ExitCode,
	}
	if run.Apply {
		m["apply"] = true
	}
	if len(run.Counters) > 0 {
		m["counters"] = run.Counters
	}
	if len(run.Failures) > 0 {
		m["failures"] = run.Failures
	}
	return m
}

func toChangeRecordMap(run RunRecord, seq int, c prune.Change) map[string]any {
	return map[string]any{
		"record_kind":       RecordKindChange,
		"command":           run.Command,
		"run_id":            run.RunID,
		"day":               day(run),
		"seq":               seq,
		"output_path":       c.OutputPath,
		"kind":              string(c.Kind),
		"removed_tasks":     nonNil(c.RemovedTasks),
		"kept_tasks":        nonNil(c.KeptTasks),
		"removed_mot_files": nonNil(c.RemovedMOTFiles),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// fromRecordMap decodes a raw dataset record into T.
func fromRecordMap[T any](m map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(m)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
