package metadata

import (
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pithecene-io/gloss/types"
)

// Entry is one descriptor file found under a dataset root.
type Entry struct {
	Path string
	// Key is the segment identity. For descriptors that fail to load it is
	// inferred from the path and the raw JSON id when readable.
	Key types.SegmentKey
	// Segment is nil when Err is set.
	Segment *types.Segment
	Err     error
}

// Iterate yields every descriptor under root for the given kinds (clip and
// frame when none are given), sorted by sport, event, kind and id.
//
// Each range over the sequence re-scans the filesystem. A descriptor that
// fails to load yields a nil segment and its error; iteration continues.
func Iterate(root string, kinds ...types.Kind) iter.Seq2[*types.Segment, error] {
	return func(yield func(*types.Segment, error) bool) {
		for _, e := range Scan(root, kinds...) {
			if !yield(e.Segment, e.Err) {
				return
			}
		}
	}
}

// Scan loads every descriptor under root and returns entries sorted by key.
func Scan(root string, kinds ...types.Kind) []Entry {
	if len(kinds) == 0 {
		kinds = types.Kinds
	}
	var entries []Entry
	for _, kind := range kinds {
		pattern := filepath.Join(root, "*", "*", kind.Dir(), "*.json")
		paths, _ := filepath.Glob(pattern)
		for _, p := range paths {
			entries = append(entries, loadEntry(p, kind))
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key.Less(entries[j].Key)
		}
		return entries[i].Path < entries[j].Path
	})
	return entries
}

func loadEntry(path string, kind types.Kind) Entry {
	seg, err := Load(path)
	if err == nil {
		return Entry{Path: path, Key: seg.Key(), Segment: seg}
	}
	return Entry{Path: path, Key: fallbackKey(path, kind), Err: err}
}

// fallbackKey infers a key for a descriptor that failed validation so that
// its output can still be matched. The JSON id wins over the file stem.
func fallbackKey(path string, kind types.Kind) types.SegmentKey {
	kindDir := filepath.Dir(path)
	eventDir := filepath.Dir(kindDir)
	key := types.SegmentKey{
		Sport: filepath.Base(filepath.Dir(eventDir)),
		Event: filepath.Base(eventDir),
		Kind:  kind,
		ID:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return key
	}
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(data, &probe) != nil || len(probe.ID) == 0 {
		return key
	}
	if id, err := idValue(rawID(probe.ID)); err == nil {
		key.ID = id
	}
	return key
}

func rawID(raw json.RawMessage) any {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	return nil
}
