// Package artifact manages auxiliary tracking side files.
//
// Tracking-bearing annotations keep their per-frame boxes in a MOTChallenge
// text file at {root}/{sport}/{event}/mot/{segment_id}_{task}.txt and store
// only the path, relative to root, in tracking_bboxes.mot_file. A side file
// is deleted only when no retained annotation references it.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pithecene-io/gloss/iox"
	"github.com/pithecene-io/gloss/types"
)

// Dir is the side file directory name under each event.
const Dir = "mot"

// Manager writes and deletes side files under one artifact root.
// Safe for concurrent use.
type Manager struct {
	root string

	mu    sync.Mutex
	stats Stats
}

// Stats counts side file operations performed by a Manager.
type Stats struct {
	Written     int64 `json:"written"`
	Deleted     int64 `json:"deleted"`
	WouldDelete int64 `json:"would_delete"`
	Missing     int64 `json:"missing"`
	Errors      int64 `json:"errors"`
}

// NewManager creates a manager rooted at root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Root returns the artifact root.
func (m *Manager) Root() string { return m.root }

// Ref returns the root-relative side file path for a segment task.
func Ref(key types.SegmentKey, taskName string) string {
	return filepath.ToSlash(filepath.Join(key.Sport, key.Event, Dir, key.ID+"_"+taskName+".txt"))
}

// Resolve maps a stored ref to a filesystem path. Absolute refs are used as is.
func (m *Manager) Resolve(ref string) string {
	p := filepath.FromSlash(ref)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.root, p)
}

// Materialize externalizes tracking into a side file and returns a copy of
// a that references it. With no drawable box the returned copy carries no
// tracking data and no file is written. a is not modified.
func (m *Manager) Materialize(a types.Annotation, tracking *Tracking, key types.SegmentKey) (types.Annotation, error) {
	rows := Rows(tracking)
	if len(rows) == 0 {
		if _, inline := a.Get(types.KeyTrackingBBoxes); inline && a.TrackingRef() == "" {
			return a.Without(types.KeyTrackingBBoxes), nil
		}
		return a.Clone(), nil
	}

	ref := Ref(key, a.TaskL2)
	if err := WriteMOT(m.Resolve(ref), rows); err != nil {
		m.count(func(s *Stats) { s.Errors++ })
		return a, fmt.Errorf("write tracking file %s: %w", ref, err)
	}
	m.count(func(s *Stats) { s.Written++ })
	return a.WithTrackingRef(ref), nil
}

// DeleteError is a side file that could not be removed.
type DeleteError struct {
	Ref string `json:"ref"`
	Err error  `json:"-"`
}

func (e DeleteError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.Ref, e.Err)
}

// Unwrap returns the filesystem error.
func (e DeleteError) Unwrap() error { return e.Err }

// Result reports what a reconcile pass did or would do, by ref.
type Result struct {
	Deleted     []string      `json:"deleted,omitempty"`
	WouldDelete []string      `json:"would_delete,omitempty"`
	Missing     []string      `json:"missing,omitempty"`
	Errors      []DeleteError `json:"errors,omitempty"`
}

// Candidates returns the refs considered, in order.
func (r Result) Candidates() []string {
	out := make([]string, 0, len(r.Deleted)+len(r.WouldDelete)+len(r.Missing)+len(r.Errors))
	out = append(out, r.Deleted...)
	out = append(out, r.WouldDelete...)
	out = append(out, r.Missing...)
	for _, e := range r.Errors {
		out = append(out, e.Ref)
	}
	sort.Strings(out)
	return out
}

// Reconcile deletes every ref in removed that is not in retained. When apply
// is false nothing is touched and existing files are reported as WouldDelete.
// A missing file counts as success. A failed delete is recorded and the
// remaining refs are still processed.
func (m *Manager) Reconcile(removed, retained []string, apply bool) Result {
	keep := make(map[string]bool, len(retained))
	for _, r := range retained {
		keep[r] = true
	}
	seen := make(map[string]bool, len(removed))
	var candidates []string
	for _, r := range removed {
		if r == "" || keep[r] || seen[r] {
			continue
		}
		seen[r] = true
		candidates = append(candidates, r)
	}
	sort.Strings(candidates)

	var res Result
	for _, ref := range candidates {
		path := m.Resolve(ref)
		if !apply {
			if exists(path) {
				res.WouldDelete = append(res.WouldDelete, ref)
			} else {
				res.Missing = append(res.Missing, ref)
			}
			continue
		}
		gone, err := iox.RemoveIfExists(path)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, DeleteError{Ref: ref, Err: err})
		case gone:
			res.Deleted = append(res.Deleted, ref)
		default:
			res.Missing = append(res.Missing, ref)
		}
	}

	m.count(func(s *Stats) {
		s.Deleted += int64(len(res.Deleted))
		s.WouldDelete += int64(len(res.WouldDelete))
		s.Missing += int64(len(res.Missing))
		s.Errors += int64(len(res.Errors))
	})
	return res
}

// Stats returns a copy of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) count(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
