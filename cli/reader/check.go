package reader

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/types"
)

// MultiTrackIssue is an output with more than one tracking-bearing task.
type MultiTrackIssue struct {
	Key   string   `json:"key" yaml:"key"`
	Tasks []string `json:"tasks" yaml:"tasks"`
}

// RefIssue is a tracking side file reference that looks wrong.
type RefIssue struct {
	Key  string `json:"key" yaml:"key"`
	Task string `json:"task" yaml:"task"`
	Ref  string `json:"ref" yaml:"ref"`
	// Path is the resolved file, set for missing files.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// CheckReport lists tracking side file problems across the output tree.
type CheckReport struct {
	Outputs       int               `json:"outputs" yaml:"outputs"`
	TrackingFiles int               `json:"tracking_files" yaml:"tracking_files"`
	MultiTrack    []MultiTrackIssue `json:"multi_track" yaml:"multi_track"`
	MissingSuffix []RefIssue        `json:"missing_suffix" yaml:"missing_suffix"`
	MissingFiles  []RefIssue        `json:"missing_files" yaml:"missing_files"`
	LoadErrors    []string          `json:"load_errors" yaml:"load_errors"`
}

// Clean reports whether no problem was found.
func (r *CheckReport) Clean() bool {
	return len(r.MultiTrack) == 0 && len(r.MissingSuffix) == 0 &&
		len(r.MissingFiles) == 0 && len(r.LoadErrors) == 0
}

// Check walks the output tree looking for outputs with several
// tracking-bearing tasks, refs whose file name lacks the _{task} suffix, and
// refs whose file does not exist.
func Check(roots Roots) (*CheckReport, error) {
	if err := requireDir(roots.Output); err != nil {
		return nil, err
	}
	resolver := artifact.NewManager(roots.artifactRoot())
	report := &CheckReport{
		MultiTrack:    []MultiTrackIssue{},
		MissingSuffix: []RefIssue{},
		MissingFiles:  []RefIssue{},
		LoadErrors:    []string{},
	}

	for _, o := range scanOutputs(roots.Output) {
		report.Outputs++
		if o.err != nil {
			report.LoadErrors = append(report.LoadErrors, o.path)
			continue
		}
		key := o.key.String()

		var tracked []string
		for _, a := range o.out.Annotations {
			if !hasTracking(a) {
				continue
			}
			name := a.TaskL2
			if name == "" {
				name = "unknown"
			}
			tracked = append(tracked, name)

			ref := a.TrackingRef()
			if ref == "" {
				continue
			}
			report.TrackingFiles++
			if !strings.Contains(filepath.Base(ref), "_"+name) {
				report.MissingSuffix = append(report.MissingSuffix, RefIssue{Key: key, Task: name, Ref: ref})
			}
			path := resolver.Resolve(ref)
			if _, err := os.Stat(path); err != nil {
				report.MissingFiles = append(report.MissingFiles, RefIssue{Key: key, Task: name, Ref: ref, Path: path})
			}
		}

		if distinct := uniqueSorted(tracked); len(distinct) > 1 {
			report.MultiTrack = append(report.MultiTrack, MultiTrackIssue{Key: key, Tasks: distinct})
		}
	}
	return report, nil
}

// hasTracking reports whether a carries a side file ref or inline tracking.
func hasTracking(a types.Annotation) bool {
	if a.TrackingRef() != "" {
		return true
	}
	switch v := a.Fields[types.KeyTrackingBBoxes].(type) {
	case nil:
		return false
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return out
}
