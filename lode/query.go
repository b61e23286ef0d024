package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrRunNotFound is returned when a requested run has no journal record.
var ErrRunNotFound = errors.New("run not found in journal")

// Filter restricts history queries. Empty fields match everything.
type Filter struct {
	Command string
	RunID   string
	Day     string
	// Limit caps the number of runs returned. Zero means no limit.
	Limit int
}

// QueryRuns returns run records matching f, latest snapshot first.
func QueryRuns(ctx context.Context, ds lode.Dataset, f Filter) ([]RunRecord, error) {
	var runs []RunRecord
	err := scan(ctx, ds, f, RecordKindRun, func(m map[string]any) (bool, error) {
		run, err := fromRecordMap[RunRecord](m)
		if err != nil {
			return false, err
		}
		runs = append(runs, run)
		return f.Limit > 0 && len(runs) >= f.Limit, nil
	})
	return runs, err
}

// QueryRun returns the record of one run.
func QueryRun(ctx context.Context, ds lode.Dataset, runID string) (RunRecord, error) {
	runs, err := QueryRuns(ctx, ds, Filter{RunID: runID, Limit: 1})
	if err != nil {
		return RunRecord{}, err
	}
	if len(runs) == 0 {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return runs[0], nil
}

// QueryChanges returns the change records of one sync run in write order.
func QueryChanges(ctx context.Context, ds lode.Dataset, runID string) ([]ChangeRecord, error) {
	if runID == "" {
		return nil, ErrMissingRunID
	}
	var changes []ChangeRecord
	err := scan(ctx, ds, Filter{RunID: runID}, RecordKindChange, func(m map[string]any) (bool, error) {
		c, err := fromRecordMap[ChangeRecord](m)
		if err != nil {
			return false, err
		}
		changes = append(changes, c)
		return false, nil
	})
	return changes, err
}

// scan visits records of kind in snapshots matching f, newest first.
// Manifest path filtering is a coarse pre-filter; record fields are
// authoritative. visit returns true to stop.
func scan(ctx context.Context, ds lode.Dataset, f Filter, kind string, visit func(map[string]any) (bool, error)) error {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return WrapReadError(err, fmt.Sprintf("%s/snapshots", ds.ID()))
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", kind) ||
			!snapshotMatchesFilter(snap, "command", f.Command) ||
			!snapshotMatchesFilter(snap, "run_id", f.RunID) ||
			!snapshotMatchesFilter(snap, "day", f.Day) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || !recordMatches(record, kind, f) {
				continue
			}
			stop, err := visit(record)
			if err != nil {
				return fmt.Errorf("decode %s record: %w", kind, err)
			}
			if stop {
				return nil
			}
		}
	}
	return nil
}

func recordMatches(record map[string]any, kind string, f Filter) bool {
	if toString(record["record_kind"]) != kind {
		return false
	}
	for key, want := range map[string]string{"command": f.Command, "run_id": f.RunID, "day": f.Day} {
		if want != "" && toString(record[key]) != want {
			return false
		}
	}
	return true
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment. This avoids substring false positives (e.g.,
// run_id=run-1 matching run_id=run-10).
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
