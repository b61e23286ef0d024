package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/model"
	"github.com/pithecene-io/gloss/task"
	"github.com/pithecene-io/gloss/types"
)

// Payload keys read and written by post-processing.
const (
	keyBoundingBox      = "bounding_box"
	keyTimestampFrame   = "timestamp_frame"
	keyFirstFrameDesc   = "first_frame_description"
	keyFirstBoundingBox = "first_bounding_box"
	keyDescription      = "description"
	keyBox              = "box"
)

// errUnavailable marks a post-processing step skipped for lack of a
// collaborator.
var errUnavailable = errors.New("collaborator unavailable")

// processed is a model answer after task post-processing.
type processed struct {
	fields   map[string]any
	tracking *artifact.Tracking
	warnings []string
}

// postProcess grounds described boxes and tracks objects for tasks that need
// it. fields is owned by the caller and modified in place.
func (r *SegmentRunner) postProcess(ctx context.Context, seg *types.Segment, k task.Kind, fields map[string]any) (*processed, error) {
	p := &processed{fields: fields}

	// Inline tracking data from the model is never stored verbatim.
	if v, ok := fields[types.KeyTrackingBBoxes]; ok {
		delete(fields, types.KeyTrackingBBoxes)
		if k.NeedsTracking() {
			start := 0
			if w, ok := window(fields, k); ok {
				start = w[0]
			}
			t, err := inlineTracking(v, start)
			if err != nil {
				p.warnings = append(p.warnings, "ignoring inline tracking data: "+err.Error())
			} else {
				p.tracking = t
			}
		}
	}

	var err error
	switch k {
	case task.ScoreboardSingle:
		err = r.groundScoreboard(ctx, seg, p)
	case task.ObjectsSpatialRelationships:
		err = r.groundObjects(ctx, seg, p)
	case task.SpatialTemporalGrounding, task.ObjectTracking:
		err = r.groundAndTrack(ctx, seg, k, p)
	}
	if errors.Is(err, errUnavailable) {
		p.warnings = append(p.warnings, fmt.Sprintf("%s: keeping description", err))
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *SegmentRunner) canGround() bool {
	return r.collab.Grounder != nil && r.collab.Frames != nil
}

func (r *SegmentRunner) locate(ctx context.Context, seg *types.Segment, frame int, desc string) (artifact.Box, error) {
	f := clipFrame(seg, frame)
	img, err := r.collab.Frames.Extract(ctx, seg.MediaPath(r.cfg.DatasetRoot), f)
	if err != nil {
		return artifact.Box{}, fmt.Errorf("extract frame %d: %w", f, err)
	}
	box, err := r.collab.Grounder.Locate(ctx, img, desc)
	if err != nil {
		return artifact.Box{}, fmt.Errorf("locate %q: %w", desc, err)
	}
	return box, nil
}

func (r *SegmentRunner) groundScoreboard(ctx context.Context, seg *types.Segment, p *processed) error {
	desc, ok := p.fields[keyBoundingBox].(string)
	if !ok || desc == "" {
		return nil
	}
	if !r.canGround() {
		return fmt.Errorf("%w: no grounder", errUnavailable)
	}
	box, err := r.locate(ctx, seg, frameField(p.fields, keyTimestampFrame), desc)
	if err != nil {
		return err
	}
	p.fields[keyBoundingBox] = boxValue(box)
	return nil
}

// groundObjects locates every described object of a spatial relationship
// answer. Each object is grounded on its own.
func (r *SegmentRunner) groundObjects(ctx context.Context, seg *types.Segment, p *processed) error {
	list, ok := p.fields[keyBoundingBox].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	frame := frameField(p.fields, keyTimestampFrame)
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		desc, _ := obj[keyDescription].(string)
		if desc == "" {
			continue
		}
		if _, err := task.Box(obj[keyBox]); err == nil {
			continue
		}
		if !r.canGround() {
			return fmt.Errorf("%w: no grounder", errUnavailable)
		}
		box, err := r.locate(ctx, seg, frame, desc)
		if err != nil {
			return fmt.Errorf("object %d: %w", i, err)
		}
		obj[keyBox] = boxValue(box)
	}
	return nil
}

func (r *SegmentRunner) groundAndTrack(ctx context.Context, seg *types.Segment, k task.Kind, p *processed) error {
	desc, _ := p.fields[keyFirstFrameDesc].(string)
	w, ok := window(p.fields, k)
	if desc == "" || !ok {
		return nil
	}

	first, err := task.Box(p.fields[keyFirstBoundingBox])
	if err != nil {
		if !r.canGround() {
			return fmt.Errorf("%w: no grounder", errUnavailable)
		}
		b, err := r.locate(ctx, seg, w[0], desc)
		if err != nil {
			return err
		}
		first = b
		p.fields[keyFirstBoundingBox] = boxValue(b)
	}

	if r.collab.Tracker == nil {
		if p.tracking != nil {
			return nil
		}
		return fmt.Errorf("%w: no tracker", errUnavailable)
	}
	tracking, err := r.collab.Tracker.Track(ctx, model.TrackRequest{
		VideoPath:  seg.MediaPath(r.cfg.DatasetRoot),
		StartFrame: clipFrame(seg, w[0]),
		EndFrame:   clipFrame(seg, w[1]),
		Box:        artifact.Box(first),
	})
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	p.tracking = tracking
	return nil
}

// window returns the single frame window of a tracking task.
func window(fields map[string]any, k task.Kind) ([2]int, bool) {
	key := k.WindowKey()
	if key == "" {
		return [2]int{}, false
	}
	ws, err := task.Windows(fields[key])
	if err != nil || len(ws) != 1 {
		return [2]int{}, false
	}
	return ws[0], true
}

// clipFrame maps a frame number to the 0-based index within the segment's
// media. Numbers past the clip that fall inside the segment's original-video
// range are taken as original numbering.
func clipFrame(seg *types.Segment, n int) int {
	start, total := seg.Info.StartingFrame, seg.Info.TotalFrames
	if n >= total && start > 0 && n >= start && n-start < total {
		return n - start
	}
	return n
}

func frameField(fields map[string]any, key string) int {
	n, ok := types.Number(fields[key])
	if !ok || n < 0 {
		return 0
	}
	return int(n)
}

func boxValue(b artifact.Box) []any {
	return []any{b[0], b[1], b[2], b[3]}
}

// inlineTracking accepts {"objects": [...]} or a list of per-frame boxes for
// a single object starting at start.
func inlineTracking(v any, start int) (*artifact.Tracking, error) {
	list, ok := v.([]any)
	if !ok {
		return artifact.ParseTracking(v)
	}
	obj := artifact.Object{ID: 0, Frames: make(map[int]artifact.Box, len(list))}
	for i, item := range list {
		b, err := task.Box(item)
		if err != nil {
			return nil, fmt.Errorf("box %d: %w", i, err)
		}
		obj.Frames[start+i] = artifact.Box(b)
	}
	return &artifact.Tracking{Objects: []artifact.Object{obj}}, nil
}
