package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("gemini", "gemini-2.5-flash", "fs", "run-001")

	c.IncSegmentSeen()
	c.IncSegmentSeen()
	c.IncSegmentProcessed()
	c.IncSegmentSkipped()
	c.IncSegmentFailed()
	c.IncTaskSucceeded()
	c.IncTaskSucceeded()
	c.IncTaskRejected("ScoreboardSingle")
	c.IncTaskFailed("Object_Tracking")
	c.IncTaskFailed("Object_Tracking")
	c.IncTaskUnknown()
	c.IncTrackerLaunchSuccess()
	c.IncTrackerLaunchFailure()
	c.IncIPCDecodeErrors()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()

	s := c.Snapshot()

	if s.SegmentsSeen != 2 {
		t.Errorf("SegmentsSeen = %d, want 2", s.SegmentsSeen)
	}
	if s.SegmentsProcessed != 1 || s.SegmentsSkipped != 1 || s.SegmentsFailed != 1 {
		t.Errorf("segment counters = %+v", s)
	}
	if s.TasksSucceeded != 2 {
		t.Errorf("TasksSucceeded = %d, want 2", s.TasksSucceeded)
	}
	if s.TasksRejected != 1 {
		t.Errorf("TasksRejected = %d, want 1", s.TasksRejected)
	}
	if s.TasksFailed != 2 {
		t.Errorf("TasksFailed = %d, want 2", s.TasksFailed)
	}
	if s.TasksUnknown != 1 {
		t.Errorf("TasksUnknown = %d, want 1", s.TasksUnknown)
	}
	if s.FailedByTask["Object_Tracking"] != 2 || s.FailedByTask["ScoreboardSingle"] != 1 {
		t.Errorf("FailedByTask = %v", s.FailedByTask)
	}
	if s.TrackerLaunchSuccess != 1 || s.TrackerLaunchFailure != 1 || s.IPCDecodeErrors != 1 {
		t.Errorf("tracker counters = %+v", s)
	}
	if s.JournalWriteSuccess != 1 || s.JournalWriteFailure != 1 {
		t.Errorf("journal counters = %+v", s)
	}
	if s.TaskOutcomes() != 5 {
		t.Errorf("TaskOutcomes() = %d, want 5", s.TaskOutcomes())
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("openai", "gpt-4o", "s3", "run-42")
	s := c.Snapshot()

	if s.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", s.Provider, "openai")
	}
	if s.Model != "gpt-4o" {
		t.Errorf("Model = %q, want %q", s.Model, "gpt-4o")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.RunID != "run-42" {
		t.Errorf("RunID = %q, want %q", s.RunID, "run-42")
	}
}

func TestCollector_AbsorbArtifactStats(t *testing.T) {
	c := NewCollector("gemini", "m", "fs", "run-001")
	c.AbsorbArtifactStats(4, 2, 1)
	c.AbsorbArtifactStats(5, 3, 0)

	s := c.Snapshot()
	if s.ArtifactsWritten != 5 || s.ArtifactsDeleted != 3 || s.ArtifactDeleteErrors != 0 {
		t.Errorf("absorb should replace, got %+v", s)
	}
}

func TestCollector_SnapshotIsolation(t *testing.T) {
	c := NewCollector("gemini", "m", "fs", "run-001")
	c.IncTaskFailed("Object_Tracking")

	s1 := c.Snapshot()
	c.IncTaskFailed("Object_Tracking")
	s1.FailedByTask["injected"] = 1

	if s1.TasksFailed != 1 {
		t.Errorf("s1.TasksFailed = %d, want 1 (snapshot should be frozen)", s1.TasksFailed)
	}
	s2 := c.Snapshot()
	if s2.FailedByTask["Object_Tracking"] != 2 {
		t.Errorf("FailedByTask = %v", s2.FailedByTask)
	}
	if _, ok := s2.FailedByTask["injected"]; ok {
		t.Error("collector should be isolated from snapshot mutation")
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	c.IncSegmentSeen()
	c.IncSegmentProcessed()
	c.IncSegmentSkipped()
	c.IncSegmentFailed()
	c.IncTaskSucceeded()
	c.IncTaskRejected("x")
	c.IncTaskFailed("x")
	c.IncTaskUnknown()
	c.IncTrackerLaunchSuccess()
	c.IncTrackerLaunchFailure()
	c.IncIPCDecodeErrors()
	c.IncJournalWriteSuccess()
	c.IncJournalWriteFailure()
	c.AbsorbArtifactStats(1, 1, 1)

	s := c.Snapshot()
	if s.SegmentsSeen != 0 || s.ArtifactsWritten != 0 {
		t.Errorf("nil collector snapshot = %+v", s)
	}
	if s.FailedByTask == nil {
		t.Error("nil collector snapshot FailedByTask should be empty, not nil")
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("gemini", "m", "fs", "run-001")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncSegmentSeen()
				c.IncTaskFailed("Object_Tracking")
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)
	if s.SegmentsSeen != want {
		t.Errorf("SegmentsSeen = %d, want %d", s.SegmentsSeen, want)
	}
	if s.FailedByTask["Object_Tracking"] != want {
		t.Errorf("FailedByTask = %d, want %d", s.FailedByTask["Object_Tracking"], want)
	}
}
