package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/task"
)

// RunReport is the structured JSON report written by annotate --report.
type RunReport struct {
	RunID      string `json:"run_id"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`

	Selected  int64 `json:"selected"`
	Deduped   int64 `json:"deduped"`
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`

	LoadErrors []string          `json:"load_errors,omitempty"`
	Segments   []SegmentReport   `json:"segments"`
	Metrics    *metrics.Snapshot `json:"metrics"`
}

// SegmentReport summarizes one segment in a RunReport.
type SegmentReport struct {
	Key       string        `json:"key"`
	Status    SegmentStatus `json:"status"`
	Satisfied []string      `json:"satisfied,omitempty"`
	Unknown   []string      `json:"unknown,omitempty"`
	Tasks     []TaskReport  `json:"tasks,omitempty"`
	Released  []string      `json:"released_tracking_files,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// TaskReport is one task outcome in a SegmentReport.
type TaskReport struct {
	Task   string      `json:"task"`
	Status task.Status `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// BuildRunReport composes a RunReport from a batch result and metrics snapshot.
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(result *BatchResult, snap metrics.Snapshot, exitCode int) *RunReport {
	report := &RunReport{
		RunID:      result.RunID,
		ExitCode:   exitCode,
		DurationMs: result.Duration.Milliseconds(),
		Selected:   result.Selected,
		Deduped:    result.Deduped,
		Processed:  result.Processed,
		Skipped:    result.Skipped,
		Failed:     result.Failed,
		LoadErrors: result.LoadErrors,
		Segments:   make([]SegmentReport, 0, len(result.Segments)),
		Metrics:    &snap,
	}
	for _, s := range result.Segments {
		sr := SegmentReport{
			Key:       s.Key.String(),
			Status:    s.Status,
			Satisfied: s.Plan.Satisfied,
			Unknown:   s.Plan.Unknown,
			Released:  s.Reconcile.Deleted,
		}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		for _, o := range s.Outcomes {
			sr.Tasks = append(sr.Tasks, TaskReport{Task: o.Task, Status: o.Status, Reason: o.Reason})
		}
		report.Segments = append(report.Segments, sr)
	}
	return report
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	if err := writeRunReportTo(report, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

// writeRunReportTo writes report JSON to any writer.
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
