// Package reader provides the read-side data access layer for the gloss CLI.
//
// Everything here is read-only: descriptors and output records are loaded,
// counted and checked, never written. Commands render the returned values
// directly, so field tags double as the JSON/YAML/table schema.
package reader

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/pithecene-io/gloss/metadata"
	"github.com/pithecene-io/gloss/record"
	"github.com/pithecene-io/gloss/task"
	"github.com/pithecene-io/gloss/types"
)

// Roots locates the trees a reader looks at.
type Roots struct {
	Dataset string
	Output  string
	// Artifact resolves relative side file refs. Defaults to Output.
	Artifact string
}

func (r Roots) artifactRoot() string {
	if r.Artifact != "" {
		return r.Artifact
	}
	return r.Output
}

// TaskCount is a per-task tally.
type TaskCount struct {
	Task      string `json:"task" yaml:"task"`
	Requested int    `json:"requested" yaml:"requested"`
	Annotated int    `json:"annotated" yaml:"annotated"`
}

// DatasetStats summarizes requested and produced annotations.
type DatasetStats struct {
	Clips            int            `json:"clips" yaml:"clips"`
	Frames           int            `json:"frames" yaml:"frames"`
	MetadataErrors   int            `json:"metadata_errors" yaml:"metadata_errors"`
	OutputClips      int            `json:"output_clips" yaml:"output_clips"`
	OutputFrames     int            `json:"output_frames" yaml:"output_frames"`
	AnnotatedClips   int            `json:"annotated_clips" yaml:"annotated_clips"`
	AnnotatedFrames  int            `json:"annotated_frames" yaml:"annotated_frames"`
	OutputErrors     int            `json:"output_errors" yaml:"output_errors"`
	Tasks            []TaskCount    `json:"tasks" yaml:"tasks"`
	UnknownRequested map[string]int `json:"unknown_requested,omitempty" yaml:"unknown_requested,omitempty"`
	UnknownAnnotated map[string]int `json:"unknown_annotated,omitempty" yaml:"unknown_annotated,omitempty"`
}

// Pending returns requested minus annotated over all known tasks, floored at 0.
func (s *DatasetStats) Pending() int {
	n := 0
	for _, t := range s.Tasks {
		n += max(t.Requested-t.Annotated, 0)
	}
	return n
}

// Stats counts descriptors under the dataset root and output records under
// the output root. Unloadable files are counted, not fatal. A missing output
// root counts as no outputs.
func Stats(roots Roots) (*DatasetStats, error) {
	if err := requireDir(roots.Dataset); err != nil {
		return nil, err
	}

	stats := &DatasetStats{
		UnknownRequested: map[string]int{},
		UnknownAnnotated: map[string]int{},
	}
	requested := map[string]int{}
	annotated := map[string]int{}

	for _, e := range metadata.Scan(roots.Dataset) {
		if e.Err != nil {
			stats.MetadataErrors++
			continue
		}
		if e.Segment.Kind() == types.KindFrame {
			stats.Frames++
		} else {
			stats.Clips++
		}
		for _, name := range e.Segment.Tasks {
			if task.Parse(name).Known() {
				requested[name]++
			} else {
				stats.UnknownRequested[name]++
			}
		}
	}

	for _, o := range scanOutputs(roots.Output) {
		if o.err != nil {
			stats.OutputErrors++
			continue
		}
		withAnns := len(o.out.Annotations) > 0
		switch o.kind {
		case types.KindFrame:
			stats.OutputFrames++
			if withAnns {
				stats.AnnotatedFrames++
			}
		default:
			stats.OutputClips++
			if withAnns {
				stats.AnnotatedClips++
			}
		}
		for _, a := range o.out.Annotations {
			switch {
			case a.TaskL2 == "":
			case task.Parse(a.TaskL2).Known():
				annotated[a.TaskL2]++
			default:
				stats.UnknownAnnotated[a.TaskL2]++
			}
		}
	}

	for _, name := range task.Names() {
		stats.Tasks = append(stats.Tasks, TaskCount{Task: name, Requested: requested[name], Annotated: annotated[name]})
	}
	return stats, nil
}

type loadedOutput struct {
	path string
	key  types.SegmentKey
	kind types.Kind
	out  *types.Output
	err  error
}

// scanOutputs loads every {sport}/{event}/{clips|frames}/{id}.json under root,
// sorted by key.
func scanOutputs(root string) []loadedOutput {
	var outs []loadedOutput
	for _, kind := range types.Kinds {
		paths, _ := filepath.Glob(filepath.Join(root, "*", "*", kind.Dir(), "*.json"))
		for _, p := range paths {
			key, err := types.KeyFromPath(root, p)
			if err != nil {
				continue
			}
			out, err := record.Load(p)
			outs = append(outs, loadedOutput{path: p, key: key, kind: kind, out: out, err: err})
		}
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].key.Less(outs[j].key) })
	return outs
}

// ErrNotDir reports a root that does not exist or is not a directory.
var ErrNotDir = errors.New("not a directory")

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "stat", Path: path, Err: ErrNotDir}
	}
	return nil
}
