// Package task defines the closed set of annotation tasks, their payload
// validators and the completion planner that decides which tasks still
// need to run for a segment.
package task

import "strings"

// Kind is a known annotation task. Unknown is a representable value for
// requested names outside the registry.
type Kind int

// Known task kinds.
const (
	Unknown Kind = iota
	ScoreboardSingle
	ScoreboardMultiple
	ObjectsSpatialRelationships
	SpatialTemporalGrounding
	ContinuousActionsCaption
	ContinuousEventsCaption
	ObjectTracking
)

// Category is the task_L1 label of a task.
type Category string

// Task categories.
const (
	Understanding Category = "Understanding"
	Perception    Category = "Perception"
)

var kindNames = map[Kind]string{
	ScoreboardSingle:            "ScoreboardSingle",
	ScoreboardMultiple:          "ScoreboardMultiple",
	ObjectsSpatialRelationships: "Objects_Spatial_Relationships",
	SpatialTemporalGrounding:    "Spatial_Temporal_Grounding",
	ContinuousActionsCaption:    "Continuous_Actions_Caption",
	ContinuousEventsCaption:     "Continuous_Events_Caption",
	ObjectTracking:              "Object_Tracking",
}

// All returns every known kind in registry order.
func All() []Kind {
	return []Kind{
		ScoreboardSingle,
		ScoreboardMultiple,
		ObjectsSpatialRelationships,
		SpatialTemporalGrounding,
		ContinuousActionsCaption,
		ContinuousEventsCaption,
		ObjectTracking,
	}
}

// Names returns the task_L2 names of all known kinds in registry order.
func Names() []string {
	kinds := All()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}

// Parse maps a task_L2 name to its Kind. Matching is exact.
func Parse(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return Unknown
}

// String returns the task_L2 name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// Known reports whether k is in the registry.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// Category returns the task_L1 label.
func (k Kind) Category() Category {
	if k == ObjectTracking {
		return Perception
	}
	return Understanding
}

// NeedsGrounding reports whether model-described boxes are converted to
// pixel coordinates after annotation.
func (k Kind) NeedsGrounding() bool {
	switch k {
	case ScoreboardSingle, ObjectsSpatialRelationships, SpatialTemporalGrounding, ObjectTracking:
		return true
	default:
		return false
	}
}

// NeedsTracking reports whether the task produces a tracking side file.
func (k Kind) NeedsTracking() bool {
	return k == SpatialTemporalGrounding || k == ObjectTracking
}

// WindowKey returns the payload key holding the frame window(s) of the task.
func (k Kind) WindowKey() string {
	switch k {
	case ObjectTracking:
		return "Q_window_frame"
	case SpatialTemporalGrounding, ContinuousActionsCaption, ContinuousEventsCaption:
		return "A_window_frame"
	default:
		return ""
	}
}

// PromptName returns the prompt template base name for the task.
func (k Kind) PromptName() string {
	return strings.ToLower(k.String())
}
