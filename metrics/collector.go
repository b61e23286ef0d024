// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single annotate run. It is a
// leaf package with no internal dependencies. Side file counters are absorbed
// from artifact.Stats at run completion rather than recorded live, avoiding
// double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Segments
	SegmentsSeen      int64 `json:"segments_seen"`
	SegmentsProcessed int64 `json:"segments_processed"`
	SegmentsSkipped   int64 `json:"segments_skipped"`
	SegmentsFailed    int64 `json:"segments_failed"`

	// Tasks
	TasksSucceeded int64            `json:"tasks_succeeded"`
	TasksRejected  int64            `json:"tasks_rejected"`
	TasksFailed    int64            `json:"tasks_failed"`
	TasksUnknown   int64            `json:"tasks_unknown"`
	FailedByTask   map[string]int64 `json:"failed_by_task"`

	// Tracker subprocess
	TrackerLaunchSuccess int64 `json:"tracker_launch_success"`
	TrackerLaunchFailure int64 `json:"tracker_launch_failure"`
	IPCDecodeErrors      int64 `json:"ipc_decode_errors"`

	// Side files (absorbed from artifact.Stats)
	ArtifactsWritten     int64 `json:"artifacts_written"`
	ArtifactsDeleted     int64 `json:"artifacts_deleted"`
	ArtifactDeleteErrors int64 `json:"artifact_delete_errors"`

	// Journal
	JournalWriteSuccess int64 `json:"journal_write_success"`
	JournalWriteFailure int64 `json:"journal_write_failure"`

	// Dimensions (informational, set at construction)
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	StorageBackend string `json:"storage_backend"`
	RunID          string `json:"run_id"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	segmentsSeen      int64
	segmentsProcessed int64
	segmentsSkipped   int64
	segmentsFailed    int64

	tasksSucceeded int64
	tasksRejected  int64
	tasksFailed    int64
	tasksUnknown   int64
	failedByTask   map[string]int64

	trackerLaunchSuccess int64
	trackerLaunchFailure int64
	ipcDecodeErrors      int64

	artifactsWritten     int64
	artifactsDeleted     int64
	artifactDeleteErrors int64

	journalWriteSuccess int64
	journalWriteFailure int64

	provider       string
	model          string
	storageBackend string
	runID          string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(provider, model, storageBackend, runID string) *Collector {
	return &Collector{
		failedByTask:   make(map[string]int64),
		provider:       provider,
		model:          model,
		storageBackend: storageBackend,
		runID:          runID,
	}
}

func (c *Collector) add(fn func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// --- Segments ---

// IncSegmentSeen records a segment handed to the pipeline.
func (c *Collector) IncSegmentSeen() { c.add(func() { c.segmentsSeen++ }) }

// IncSegmentProcessed records a segment whose output was saved.
func (c *Collector) IncSegmentProcessed() { c.add(func() { c.segmentsProcessed++ }) }

// IncSegmentSkipped records a segment with nothing to run.
func (c *Collector) IncSegmentSkipped() { c.add(func() { c.segmentsSkipped++ }) }

// IncSegmentFailed records a segment that could not be processed or saved.
func (c *Collector) IncSegmentFailed() { c.add(func() { c.segmentsFailed++ }) }

// --- Tasks ---

// IncTaskSucceeded records a task whose annotation passed validation.
func (c *Collector) IncTaskSucceeded() { c.add(func() { c.tasksSucceeded++ }) }

// IncTaskRejected records a task whose annotation failed validation.
func (c *Collector) IncTaskRejected(task string) {
	c.add(func() {
		c.tasksRejected++
		c.failedByTask[task]++
	})
}

// IncTaskFailed records a task whose collaborator call failed.
func (c *Collector) IncTaskFailed(task string) {
	c.add(func() {
		c.tasksFailed++
		c.failedByTask[task]++
	})
}

// IncTaskUnknown records a requested task name with no registered validator.
func (c *Collector) IncTaskUnknown() { c.add(func() { c.tasksUnknown++ }) }

// --- Tracker ---

// IncTrackerLaunchSuccess records a successful tracker launch.
func (c *Collector) IncTrackerLaunchSuccess() { c.add(func() { c.trackerLaunchSuccess++ }) }

// IncTrackerLaunchFailure records a failed tracker launch.
func (c *Collector) IncTrackerLaunchFailure() { c.add(func() { c.trackerLaunchFailure++ }) }

// IncIPCDecodeErrors records a tracker frame decode error.
func (c *Collector) IncIPCDecodeErrors() { c.add(func() { c.ipcDecodeErrors++ }) }

// --- Journal ---
// Journal counters are per-call, not per-record.

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() { c.add(func() { c.journalWriteSuccess++ }) }

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() { c.add(func() { c.journalWriteFailure++ }) }

// --- Side files ---

// AbsorbArtifactStats copies side file counters into the collector.
// Called once after the run with the final artifact.Stats values; the
// arguments are plain integers to keep this package free of dependencies.
func (c *Collector) AbsorbArtifactStats(written, deleted, errors int64) {
	c.add(func() {
		c.artifactsWritten = written
		c.artifactsDeleted = deleted
		c.artifactDeleteErrors = errors
	})
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{FailedByTask: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	failed := make(map[string]int64, len(c.failedByTask))
	for k, v := range c.failedByTask {
		failed[k] = v
	}

	return Snapshot{
		SegmentsSeen:      c.segmentsSeen,
		SegmentsProcessed: c.segmentsProcessed,
		SegmentsSkipped:   c.segmentsSkipped,
		SegmentsFailed:    c.segmentsFailed,

		TasksSucceeded: c.tasksSucceeded,
		TasksRejected:  c.tasksRejected,
		TasksFailed:    c.tasksFailed,
		TasksUnknown:   c.tasksUnknown,
		FailedByTask:   failed,

		TrackerLaunchSuccess: c.trackerLaunchSuccess,
		TrackerLaunchFailure: c.trackerLaunchFailure,
		IPCDecodeErrors:      c.ipcDecodeErrors,

		ArtifactsWritten:     c.artifactsWritten,
		ArtifactsDeleted:     c.artifactsDeleted,
		ArtifactDeleteErrors: c.artifactDeleteErrors,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		Provider:       c.provider,
		Model:          c.model,
		StorageBackend: c.storageBackend,
		RunID:          c.runID,
	}
}

// TaskOutcomes returns succeeded + rejected + failed.
func (s Snapshot) TaskOutcomes() int64 {
	return s.TasksSucceeded + s.TasksRejected + s.TasksFailed
}
