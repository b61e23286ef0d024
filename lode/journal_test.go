package lode

import (
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/prune"
	"github.com/pithecene-io/gloss/types"
)

// sharedFactory returns a StoreFactory that always returns the given store.
// This allows write and read datasets to share the same in-memory state.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

var started = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func runRecord(command, runID string, exit int) RunRecord {
	return RunRecord{
		Command:     command,
		RunID:       runID,
		StartedAt:   started,
		CompletedAt: started.Add(90 * time.Second),
		ExitCode:    exit,
		Counters:    map[string]int64{"processed": 3, "failed": int64(exit)},
	}
}

func TestJournal_RecordAndQuery(t *testing.T) {
	store := lode.NewMemory()
	collector := metrics.NewCollector("gemini", "gemini-2.5-flash", "memory", "run-001")

	j, err := NewJournal(Config{Backend: "memory", Metrics: collector}, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	if err := j.Record(t.Context(), runRecord(CommandAnnotate, "run-001", 1), nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	runs, err := j.Runs(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.RecordKind != RecordKindRun || got.Command != CommandAnnotate || got.RunID != "run-001" {
		t.Errorf("run = %+v", got)
	}
	if got.SchemaVersion != types.JournalSchemaVersion {
		t.Errorf("SchemaVersion = %q", got.SchemaVersion)
	}
	if got.Day != "2026-03-14" {
		t.Errorf("Day = %q, want 2026-03-14", got.Day)
	}
	if got.ExitCode != 1 || got.Counters["processed"] != 3 {
		t.Errorf("ExitCode=%d Counters=%v", got.ExitCode, got.Counters)
	}
	if got.Duration() != 90*time.Second {
		t.Errorf("Duration = %v", got.Duration())
	}
	if s := collector.Snapshot(); s.JournalWriteSuccess != 1 || s.JournalWriteFailure != 0 {
		t.Errorf("journal metrics = %d/%d", s.JournalWriteSuccess, s.JournalWriteFailure)
	}
}

func TestJournal_SyncChanges(t *testing.T) {
	j, err := NewJournal(Config{}, sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	changes := []prune.Change{
		{OutputPath: "soccer/derby/1.json", Kind: prune.ChangeRewrite, RemovedTasks: []string{"Object_Tracking"}, KeptTasks: []string{"Scoreboard"}, RemovedMOTFiles: []string{"/out/soccer/derby/mot/1_Object_Tracking.txt"}},
		{OutputPath: "soccer/derby/9.json", Kind: prune.ChangeOrphan},
	}
	run := runRecord(CommandSync, "sync-1", 1)
	run.Apply = true
	if err := j.Record(t.Context(), run, changes); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := j.Record(t.Context(), runRecord(CommandSync, "sync-10", 0), nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := j.Changes(t.Context(), "sync-1")
	if err != nil {
		t.Fatalf("Changes failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("changes = %d, want 2", len(got))
	}
	first := got[0].Change()
	if first.Kind != prune.ChangeRewrite || len(first.RemovedMOTFiles) != 1 || first.KeptTasks[0] != "Scoreboard" {
		t.Errorf("change = %+v", first)
	}
	if got[1].Kind != string(prune.ChangeOrphan) || got[1].RemovedTasks == nil {
		t.Errorf("orphan change = %+v", got[1])
	}

	none, err := j.Changes(t.Context(), "sync-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("sync-10 changes = %d, want 0", len(none))
	}

	rec, err := QueryRun(t.Context(), j.Dataset(), "sync-1")
	if err != nil {
		t.Fatalf("QueryRun failed: %v", err)
	}
	if !rec.Apply {
		t.Error("Apply not preserved")
	}
}

func TestQueryRuns_FilterAndOrder(t *testing.T) {
	j, err := NewJournal(Config{}, sharedFactory(lode.NewMemory()))
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range []RunRecord{
		runRecord(CommandAnnotate, "run-1", 0),
		runRecord(CommandSync, "run-2", 0),
		runRecord(CommandAnnotate, "run-3", 0),
	} {
		if err := j.Record(t.Context(), r, nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := j.Runs(t.Context(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].RunID != "run-3" || all[2].RunID != "run-1" {
		t.Errorf("runs not latest first: %+v", all)
	}

	annotate, err := j.Runs(t.Context(), Filter{Command: CommandAnnotate})
	if err != nil {
		t.Fatal(err)
	}
	if len(annotate) != 2 {
		t.Errorf("annotate runs = %d, want 2", len(annotate))
	}

	limited, err := j.Runs(t.Context(), Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-3" {
		t.Errorf("limited = %+v", limited)
	}

	if _, err := QueryRun(t.Context(), j.Dataset(), "run-9"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestJournal_EmptyDataset(t *testing.T) {
	j, err := NewJournal(Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	runs, err := j.Runs(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("Runs on empty dataset: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}
}

func TestJournal_RejectsMissingRunID(t *testing.T) {
	j, err := NewJournal(Config{}, lode.NewMemoryFactory())
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(t.Context(), RunRecord{Command: CommandSync}, nil); !errors.Is(err, ErrMissingRunID) {
		t.Errorf("err = %v, want ErrMissingRunID", err)
	}
	if _, err := j.Changes(t.Context(), ""); !errors.Is(err, ErrMissingRunID) {
		t.Errorf("err = %v, want ErrMissingRunID", err)
	}
}

func TestFSJournal_Persists(t *testing.T) {
	root := t.TempDir()
	j, err := NewFSJournal(Config{}, root)
	if err != nil {
		t.Fatalf("NewFSJournal failed: %v", err)
	}
	if err := j.Record(t.Context(), runRecord(CommandAnnotate, "run-fs", 0), nil); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	reopened, err := NewFSJournal(Config{}, root)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := QueryRun(t.Context(), reopened.Dataset(), "run-fs")
	if err != nil {
		t.Fatalf("QueryRun after reopen: %v", err)
	}
	if rec.Command != CommandAnnotate {
		t.Errorf("Command = %q", rec.Command)
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "datasets/gloss/partitions/command=sync/day=2026-03-14/run_id=run-10/record_kind=run/part.jsonl"
	if !matchesPartitionValue(path, "run_id", "run-10") {
		t.Error("exact segment should match")
	}
	if matchesPartitionValue(path, "run_id", "run-1") {
		t.Error("prefix must not match")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct{ in, bucket, prefix string }{
		{"bucket", "bucket", ""},
		{"bucket/journal/gloss", "bucket", "journal/gloss"},
		{"s3://bucket/p", "bucket", "p"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestS3Config_Validate(t *testing.T) {
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("expected error for empty bucket")
	}
	if err := (&S3Config{Bucket: "b"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
