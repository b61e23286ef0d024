// Package record owns the per-segment annotation output: merging new task
// results into it, renumbering annotation ids, and persisting it atomically.
//
// Merge is a pure transform. The read-merge-write cycle around it is not
// safe for two concurrent writers of the same segment; callers partition
// work so that each segment has a single writer.
package record

import (
	"sort"
	"strconv"

	"github.com/pithecene-io/gloss/types"
)

// MergeResult is the outcome of folding new annotations into an output.
type MergeResult struct {
	Output *types.Output
	// Removed lists tracking refs owned by superseded annotations that no
	// surviving or incoming annotation still references. Sorted.
	Removed []string
	// Retained lists every tracking ref referenced by the merged output. Sorted.
	Retained []string
	// Replaced lists the tasks whose existing annotation was superseded.
	Replaced []string
}

// Merge replaces existing annotations by task with incoming ones, appends the
// rest in order and renumbers ids. existing may be nil. Neither input is
// modified.
//
// Incoming annotations for the same task collapse to the last one, kept at
// the position of the first.
func Merge(existing *types.Output, incoming []types.Annotation, seg *types.Segment) MergeResult {
	var out *types.Output
	if existing == nil {
		out = types.NewOutput(seg)
	} else {
		out = existing.Clone()
	}

	fresh := dedupeByTask(incoming)
	replacing := make(map[string]bool, len(fresh))
	for _, a := range fresh {
		replacing[a.TaskL2] = true
	}

	var (
		kept     = make([]types.Annotation, 0, len(out.Annotations)+len(fresh))
		dropped  []string
		replaced []string
	)
	for _, a := range out.Annotations {
		if replacing[a.TaskL2] {
			replaced = append(replaced, a.TaskL2)
			if ref := a.TrackingRef(); ref != "" {
				dropped = append(dropped, ref)
			}
			continue
		}
		kept = append(kept, a)
	}
	for _, a := range fresh {
		a.Reviewed = false
		kept = append(kept, a)
	}
	out.Annotations = kept
	Renumber(out)

	retained := Refs(out.Annotations)
	return MergeResult{
		Output:   out,
		Removed:  Subtract(dropped, retained),
		Retained: retained,
		Replaced: replaced,
	}
}

// Renumber assigns annotation_id "1".."N" in list order.
func Renumber(out *types.Output) {
	for i := range out.Annotations {
		out.Annotations[i].ID = strconv.Itoa(i + 1)
	}
}

// Partition splits annotations with keep. Returns deep copies.
func Partition(out *types.Output, keep func(types.Annotation) bool) (kept, removed []types.Annotation) {
	for _, a := range out.Annotations {
		if keep(a) {
			kept = append(kept, a.Clone())
		} else {
			removed = append(removed, a.Clone())
		}
	}
	return kept, removed
}

// Refs collects the distinct tracking refs of anns, sorted.
func Refs(anns []types.Annotation) []string {
	set := make(map[string]bool)
	for _, a := range anns {
		if ref := a.TrackingRef(); ref != "" {
			set[ref] = true
		}
	}
	return sortedSet(set)
}

// Subtract returns the distinct elements of a not in b, sorted.
func Subtract(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, s := range b {
		drop[s] = true
	}
	set := make(map[string]bool)
	for _, s := range a {
		if s != "" && !drop[s] {
			set[s] = true
		}
	}
	return sortedSet(set)
}

func dedupeByTask(incoming []types.Annotation) []types.Annotation {
	pos := make(map[string]int, len(incoming))
	out := make([]types.Annotation, 0, len(incoming))
	for _, a := range incoming {
		c := a.Clone()
		if i, ok := pos[c.TaskL2]; ok {
			out[i] = c
			continue
		}
		pos[c.TaskL2] = len(out)
		out = append(out, c)
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
