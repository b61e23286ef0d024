// Package prune reconciles annotation outputs with the current segment
// descriptors.
//
// A sync pass removes annotations whose task is no longer requested,
// deletes side files no retained annotation references, optionally deletes
// outputs left empty, and optionally sweeps outputs whose descriptor no
// longer exists. Every pass is dry-run unless Options.Apply is set, and a
// pass with no descriptor changes since the previous applied pass is a no-op.
package prune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/metadata"
	"github.com/pithecene-io/gloss/record"
	"github.com/pithecene-io/gloss/types"
)

// Options configures a sync pass.
type Options struct {
	DatasetRoot string
	OutputRoot  string
	// ArtifactRoot resolves relative side file refs. Defaults to OutputRoot.
	ArtifactRoot string
	Apply        bool
	PruneOrphans bool
	DeleteEmpty  bool
	// Kinds restricts the pass. Defaults to clips and frames.
	Kinds []types.Kind
}

// saveOutput persists a rewritten output.
var saveOutput = record.Save

// ErrDatasetRoot reports an unusable dataset root.
var ErrDatasetRoot = errors.New("dataset root not found or not a directory")

// outputState is what the scan learned about one output file.
type outputState struct {
	path string
	out  *types.Output
	// refs are all side file refs the file references today.
	refs []string
}

type action struct {
	kind     ChangeKind
	path     string
	out      *types.Output
	kept     []types.Annotation
	removed  []string
	keptTask []string
	refs     []string
}

// Sync runs one reconciliation pass.
func Sync(ctx context.Context, opts Options) (*Report, error) {
	if fi, err := os.Stat(opts.DatasetRoot); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDatasetRoot, opts.DatasetRoot)
	}
	if opts.ArtifactRoot == "" {
		opts.ArtifactRoot = opts.OutputRoot
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = types.Kinds
	}

	rep := &Report{
		DatasetRoot:  opts.DatasetRoot,
		OutputRoot:   opts.OutputRoot,
		ArtifactRoot: opts.ArtifactRoot,
		Apply:        opts.Apply,
		PruneOrphans: opts.PruneOrphans,
		DeleteEmpty:  opts.DeleteEmpty,
		Changes:      []Change{},
		Issues:       []Issue{},
	}
	c := &rep.Counters
	issue := func(path, reason string) {
		rep.Issues = append(rep.Issues, Issue{Path: path, Reason: reason})
	}

	// Authoritative task sets. Descriptors that fail to load still protect
	// their output from any change.
	entries := metadata.Scan(opts.DatasetRoot, kinds...)
	c.MetadataFiles = len(entries)
	requested := make(map[types.SegmentKey]map[string]bool)
	protected := make(map[string]bool)
	var keys []types.SegmentKey
	for _, e := range entries {
		outPath := record.Path(opts.OutputRoot, e.Key)
		if e.Err != nil {
			c.MetadataLoadErrors++
			issue(e.Path, ReasonMetadataLoadError)
			protected[outPath] = true
			continue
		}
		set, seen := requested[e.Key]
		if !seen {
			set = make(map[string]bool)
			requested[e.Key] = set
			keys = append(keys, e.Key)
		}
		for _, name := range e.Segment.Tasks {
			set[name] = true
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	outputs := scanOutputs(opts.OutputRoot, kinds)

	var actions []action
	processed := make(map[string]bool)
	for _, key := range keys {
		outPath := record.Path(opts.OutputRoot, key)
		st, ok := outputs[outPath]
		if !ok {
			c.OutputMissing++
			issue(outPath, ReasonOutputMissing)
			continue
		}
		processed[outPath] = true

		if st.out == nil {
			reason := classifyOutput(outPath)
			switch reason {
			case ReasonOutputInvalidJSON:
				c.OutputInvalidJSON++
			case ReasonOutputMissingAnns:
				c.OutputMissingAnns++
			default:
				c.OutputLoadErrors++
			}
			issue(outPath, reason)
			continue
		}

		want := requested[key]
		kept, removed := record.Partition(st.out, func(a types.Annotation) bool {
			name := strings.TrimSpace(a.TaskL2)
			return name != "" && want[name]
		})
		if len(removed) == 0 {
			continue
		}
		var missingTask bool
		for _, a := range removed {
			if strings.TrimSpace(a.TaskL2) == "" {
				c.AnnotationMissingTaskL2++
				missingTask = true
			}
		}
		if missingTask {
			issue(outPath, ReasonAnnotationMissingTaskL2)
		}

		kind := ChangeRewrite
		if opts.DeleteEmpty && len(kept) == 0 {
			kind = ChangeDeleteEmpty
		}
		actions = append(actions, action{
			kind:     kind,
			path:     outPath,
			out:      st.out,
			kept:     kept,
			removed:  uniqueInOrder(tasksOf(removed)),
			keptTask: uniqueInOrder(tasksOf(kept)),
			refs:     record.Refs(removed),
		})
	}

	if opts.PruneOrphans {
		for _, path := range sortedPaths(outputs) {
			if processed[path] || protected[path] {
				continue
			}
			st := outputs[path]
			if st.out == nil {
				c.OrphanLoadErrors++
				issue(path, ReasonOrphanLoadError)
				continue
			}
			actions = append(actions, action{
				kind:    ChangeOrphan,
				path:    path,
				out:     st.out,
				removed: uniqueInOrder(tasksOf(st.out.Annotations)),
				refs:    st.refs,
			})
		}
	}

	// Record mutations go first so the retained set reflects what is
	// actually on disk afterwards. A failed mutation keeps every ref its
	// output still holds.
	var done []action
	failed := make(map[string]bool)
	for _, act := range actions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if !applyRecord(opts.Apply, act, c, issue) {
			failed[act.path] = true
			continue
		}
		done = append(done, act)
	}

	retained := retainedRefs(outputs, actions, failed)
	mgr := artifact.NewManager(opts.ArtifactRoot)

	// A side file dropped by several outputs is reconciled once, under the
	// first change that dropped it.
	claimed := make(map[string]bool)
	for _, act := range done {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		var refs []string
		for _, ref := range act.refs {
			p := mgr.Resolve(ref)
			if claimed[p] {
				continue
			}
			claimed[p] = true
			refs = append(refs, ref)
		}

		res := mgr.Reconcile(refs, retained, opts.Apply)
		c.MOTDeleted += len(res.Deleted)
		c.MOTWouldDelete += len(res.WouldDelete)
		c.MOTMissing += len(res.Missing)
		c.MOTDeleteErrors += len(res.Errors)
		for _, e := range res.Errors {
			issue(mgr.Resolve(e.Ref), ReasonMOTDeleteError)
		}

		var motFiles []string
		if opts.Apply {
			motFiles = resolveAll(mgr, res.Deleted)
		} else {
			motFiles = resolveAll(mgr, append(append([]string{}, res.WouldDelete...), res.Missing...))
		}
		sort.Strings(motFiles)

		rep.Changes = append(rep.Changes, Change{
			OutputPath:      act.path,
			Kind:            act.kind,
			RemovedTasks:    nonNil(act.removed),
			KeptTasks:       nonNil(act.keptTask),
			RemovedMOTFiles: nonNil(motFiles),
		})
	}

	return rep, nil
}

// applyRecord rewrites or deletes the output file. Side files are only
// reconciled after the record mutation succeeded, so a failure never leaves
// a record pointing at a deleted file.
func applyRecord(apply bool, act action, c *Counters, issue func(string, string)) bool {
	switch act.kind {
	case ChangeRewrite:
		if !apply {
			c.OutputWouldRewrite++
			return true
		}
		next := act.out.Clone()
		next.Annotations = act.kept
		if next.Annotations == nil {
			next.Annotations = []types.Annotation{}
		}
		record.Renumber(next)
		if err := saveOutput(act.path, next); err != nil {
			c.OutputWriteErrors++
			issue(act.path, ReasonOutputWriteError)
			return false
		}
		c.OutputRewritten++
		return true

	case ChangeDeleteEmpty:
		if !apply {
			c.OutputWouldDeleteEmpty++
			return true
		}
		if err := os.Remove(act.path); err != nil && !os.IsNotExist(err) {
			c.OutputDeleteErrors++
			issue(act.path, ReasonOutputDeleteError)
			return false
		}
		c.OutputDeletedEmpty++
		return true

	case ChangeOrphan:
		if !apply {
			c.OrphanWouldDelete++
			return true
		}
		if err := os.Remove(act.path); err != nil && !os.IsNotExist(err) {
			c.OrphanDeleteErrors++
			issue(act.path, ReasonOrphanDeleteError)
			return false
		}
		c.OrphanDeleted++
		return true
	}
	return false
}

// retainedRefs returns every side file ref that an output still references
// once actions are applied. Outputs in failed were left untouched.
func retainedRefs(outputs map[string]*outputState, actions []action, failed map[string]bool) []string {
	changed := make(map[string]action, len(actions))
	for _, a := range actions {
		changed[a.path] = a
	}
	var refs []string
	for path, st := range outputs {
		act, ok := changed[path]
		if !ok || failed[path] {
			refs = append(refs, st.refs...)
			continue
		}
		if act.kind == ChangeRewrite {
			refs = append(refs, record.Refs(act.kept)...)
		}
	}
	return refs
}

func scanOutputs(root string, kinds []types.Kind) map[string]*outputState {
	outputs := make(map[string]*outputState)
	for _, kind := range kinds {
		paths, _ := filepath.Glob(filepath.Join(root, "*", "*", kind.Dir(), "*.json"))
		for _, p := range paths {
			st := &outputState{path: p}
			if out, err := record.Load(p); err == nil {
				st.out = out
				st.refs = record.Refs(out.Annotations)
			}
			outputs[p] = st
		}
	}
	return outputs
}

// classifyOutput explains why an existing output failed to load.
func classifyOutput(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReasonOutputLoadError
	}
	var doc any
	if json.Unmarshal(data, &doc) != nil {
		return ReasonOutputInvalidJSON
	}
	obj, _ := doc.(map[string]any)
	if _, ok := obj["annotations"].([]any); !ok {
		return ReasonOutputMissingAnns
	}
	return ReasonOutputLoadError
}

func sortedPaths(outputs map[string]*outputState) []string {
	out := make([]string, 0, len(outputs))
	for p := range outputs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func tasksOf(anns []types.Annotation) []string {
	out := make([]string, 0, len(anns))
	for _, a := range anns {
		if name := strings.TrimSpace(a.TaskL2); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func uniqueInOrder(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func resolveAll(m *artifact.Manager, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, m.Resolve(r))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
