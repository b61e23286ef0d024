package prune

// ChangeKind classifies a change to one output file.
type ChangeKind string

// Change kinds.
const (
	ChangeRewrite     ChangeKind = "rewrite"
	ChangeDeleteEmpty ChangeKind = "delete_empty"
	ChangeOrphan      ChangeKind = "orphan"
)

// Issue reasons.
const (
	ReasonMetadataLoadError       = "metadata_load_error"
	ReasonOutputMissing           = "output_missing"
	ReasonOutputLoadError         = "output_load_error"
	ReasonOutputInvalidJSON       = "output_invalid_json"
	ReasonOutputMissingAnns       = "output_missing_annotations"
	ReasonAnnotationMissingTaskL2 = "annotation_missing_task_L2"
	ReasonOutputWriteError        = "output_write_error"
	ReasonOutputDeleteError       = "output_delete_error"
	ReasonOrphanLoadError         = "orphan_output_load_error"
	ReasonOrphanDeleteError       = "orphan_output_delete_error"
	ReasonMOTDeleteError          = "mot_delete_error"
)

// Change describes one output file that was, or would be, modified.
type Change struct {
	OutputPath      string     `json:"output_path"`
	Kind            ChangeKind `json:"kind"`
	RemovedTasks    []string   `json:"removed_tasks"`
	KeptTasks       []string   `json:"kept_tasks"`
	RemovedMOTFiles []string   `json:"removed_mot_files"`
}

// Issue is a path that could not be processed cleanly.
type Issue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Counters tallies every mutation category independently.
type Counters struct {
	MetadataFiles           int `json:"metadata_files"`
	MetadataLoadErrors      int `json:"metadata_load_errors"`
	OutputMissing           int `json:"output_missing"`
	OutputLoadErrors        int `json:"output_load_errors"`
	OutputInvalidJSON       int `json:"output_invalid_json"`
	OutputMissingAnns       int `json:"output_missing_annotations"`
	AnnotationMissingTaskL2 int `json:"annotation_missing_task_L2"`
	OutputRewritten         int `json:"output_rewritten"`
	OutputWouldRewrite      int `json:"output_would_rewrite"`
	OutputDeletedEmpty      int `json:"output_deleted_empty"`
	OutputWouldDeleteEmpty  int `json:"output_would_delete_empty"`
	OutputDeleteErrors      int `json:"output_delete_errors"`
	OutputWriteErrors       int `json:"output_write_errors"`
	OrphanDeleted           int `json:"orphan_output_deleted"`
	OrphanWouldDelete       int `json:"orphan_output_would_delete"`
	OrphanLoadErrors        int `json:"orphan_output_load_errors"`
	OrphanDeleteErrors      int `json:"orphan_output_delete_errors"`
	MOTDeleted              int `json:"mot_deleted"`
	MOTWouldDelete          int `json:"mot_would_delete"`
	MOTMissing              int `json:"mot_missing"`
	MOTDeleteErrors         int `json:"mot_delete_errors"`
}

// Report is the result of one sync pass.
type Report struct {
	DatasetRoot  string   `json:"dataset_root"`
	OutputRoot   string   `json:"output_root"`
	ArtifactRoot string   `json:"artifact_root"`
	Apply        bool     `json:"apply"`
	PruneOrphans bool     `json:"prune_orphans"`
	DeleteEmpty  bool     `json:"delete_empty_outputs"`
	Changes      []Change `json:"changes"`
	Issues       []Issue  `json:"issues"`
	Counters     Counters `json:"counters"`
}

// Clean reports whether the pass found nothing to change and no issue.
func (r *Report) Clean() bool {
	return len(r.Changes) == 0 && len(r.Issues) == 0
}

// IssuesByReason groups issue paths by reason, preserving order within a group.
func (r *Report) IssuesByReason() map[string][]string {
	out := make(map[string][]string)
	for _, is := range r.Issues {
		out[is.Reason] = append(out[is.Reason], is.Path)
	}
	return out
}
