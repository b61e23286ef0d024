// Package types defines the core domain types shared by gloss components:
// segment descriptors, annotation records and per-segment output records.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind distinguishes multi-frame clips from single extracted frames.
type Kind string

// Segment kinds.
const (
	KindClip  Kind = "clip"
	KindFrame Kind = "frame"
)

// Kinds is the default iteration order for segment kinds.
var Kinds = []Kind{KindClip, KindFrame}

// Dir returns the dataset directory name for the kind ("clips" or "frames").
func (k Kind) Dir() string {
	switch k {
	case KindClip:
		return "clips"
	case KindFrame:
		return "frames"
	default:
		return ""
	}
}

// MediaExt returns the media file extension for the kind.
func (k Kind) MediaExt() string {
	if k == KindFrame {
		return ".jpg"
	}
	return ".mp4"
}

// KindFromDir maps a dataset directory name back to its Kind.
func KindFromDir(dir string) (Kind, bool) {
	switch dir {
	case "clips":
		return KindClip, true
	case "frames":
		return KindFrame, true
	default:
		return "", false
	}
}

// Origin identifies the source video a segment was cut from.
type Origin struct {
	Sport string `json:"sport"`
	Event string `json:"event"`
}

// Info carries frame geometry of a segment.
type Info struct {
	// StartingFrame is the first frame of the segment in original-video numbering.
	StartingFrame int `json:"original_starting_frame"`
	// TotalFrames is 1 for a single frame and > 1 for a clip.
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
	// DurationSec is optional; when present it must agree with TotalFrames/FPS.
	DurationSec *float64 `json:"duration_sec,omitempty"`
}

// Duration returns the segment duration in seconds derived from frames and fps.
func (i Info) Duration() float64 {
	if i.FPS <= 0 {
		return 0
	}
	return float64(i.TotalFrames) / i.FPS
}

// Segment is a validated segment descriptor.
// It is read-only from the point of view of the annotation engine.
type Segment struct {
	ID     string
	Origin Origin
	Info   Info
	// Tasks is the ordered, deduplicated list of requested task names.
	Tasks []string
	// Path is the descriptor file it was loaded from, if any.
	Path string
}

// Kind derives the segment kind from its frame count.
func (s *Segment) Kind() Kind {
	if s.Info.TotalFrames == 1 {
		return KindFrame
	}
	return KindClip
}

// Key returns the identity of the segment within a dataset.
func (s *Segment) Key() SegmentKey {
	return SegmentKey{Sport: s.Origin.Sport, Event: s.Origin.Event, Kind: s.Kind(), ID: s.ID}
}

// Eligible reports whether the segment can be processed by the annotator.
func (s *Segment) Eligible() bool {
	return len(s.Tasks) > 0
}

// HasTask reports whether name is among the requested tasks.
func (s *Segment) HasTask(name string) bool {
	for _, t := range s.Tasks {
		if t == name {
			return true
		}
	}
	return false
}

// MediaPath returns the clip video or frame image path under datasetRoot.
func (s *Segment) MediaPath(datasetRoot string) string {
	k := s.Kind()
	return filepath.Join(datasetRoot, s.Origin.Sport, s.Origin.Event, k.Dir(), s.ID+k.MediaExt())
}

// SegmentKey identifies a segment (and its output record) within a dataset.
type SegmentKey struct {
	Sport string `json:"sport"`
	Event string `json:"event"`
	Kind  Kind   `json:"kind"`
	ID    string `json:"id"`
}

// String renders the key as sport/event/kind/id.
func (k SegmentKey) String() string {
	return strings.Join([]string{k.Sport, k.Event, string(k.Kind), k.ID}, "/")
}

// RelPath returns the key's relative JSON path ({sport}/{event}/{clips|frames}/{id}.json).
func (k SegmentKey) RelPath() string {
	return filepath.Join(k.Sport, k.Event, k.Kind.Dir(), k.ID+".json")
}

// Less orders keys by sport, event, kind and id.
func (k SegmentKey) Less(o SegmentKey) bool {
	if k.Sport != o.Sport {
		return k.Sport < o.Sport
	}
	if k.Event != o.Event {
		return k.Event < o.Event
	}
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return lessID(k.ID, o.ID)
}

// lessID orders numeric ids numerically ("2" < "10") and everything else lexically.
func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil && na != nb:
		return na < nb
	case errA == nil && errB != nil:
		return true
	case errA != nil && errB == nil:
		return false
	default:
		return a < b
	}
}

// KeyFromPath infers a segment key from a {sport}/{event}/{clips|frames}/{id}.json
// path relative to root.
func KeyFromPath(root, path string) (SegmentKey, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return SegmentKey{}, fmt.Errorf("path %s is not under %s: %w", path, root, err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[0] == ".." {
		return SegmentKey{}, fmt.Errorf("path %s does not match {sport}/{event}/{clips|frames}/{id}.json", rel)
	}
	kind, ok := KindFromDir(parts[2])
	if !ok {
		return SegmentKey{}, fmt.Errorf("path %s: unknown kind directory %q", rel, parts[2])
	}
	id := strings.TrimSuffix(parts[3], filepath.Ext(parts[3]))
	if id == "" {
		return SegmentKey{}, fmt.Errorf("path %s: empty id", rel)
	}
	return SegmentKey{Sport: parts[0], Event: parts[1], Kind: kind, ID: id}, nil
}
