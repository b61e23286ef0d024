package task

import (
	"errors"
	"fmt"
	"math"

	"github.com/pithecene-io/gloss/types"
)

// Validator checks an annotation payload. A nil error means valid.
type Validator func(a types.Annotation) error

// Payload keys inspected by the built-in validators.
const (
	keyBoundingBox      = "bounding_box"
	keyFirstBoundingBox = "first_bounding_box"
	keyAnswer           = "answer"
	keyBox              = "box"
)

func validateBase(k Kind) Validator {
	return func(a types.Annotation) error {
		if a.TaskL2 != k.String() {
			return fmt.Errorf("task_L2 %q, want %q", a.TaskL2, k.String())
		}
		if a.TaskL1 != string(k.Category()) {
			return fmt.Errorf("task_L1 %q, want %q", a.TaskL1, k.Category())
		}
		if a.PayloadLen() == 0 {
			return errors.New("empty payload")
		}
		return nil
	}
}

// validateBoxField accepts an ungrounded description string or a pixel box.
func validateBoxField(key string) Validator {
	return func(a types.Annotation) error {
		v, ok := a.Get(key)
		if !ok || v == nil {
			return nil
		}
		if _, isText := v.(string); isText {
			return nil
		}
		if err := checkBox(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	}
}

// validateObjectBoxes checks every grounded "box" in a list of described objects.
func validateObjectBoxes(a types.Annotation) error {
	v, ok := a.Get(keyBoundingBox)
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		if _, isText := v.(string); isText {
			return nil
		}
		return fmt.Errorf("%s: expected list, got %T", keyBoundingBox, v)
	}
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if box, ok := obj[keyBox]; ok && box != nil {
			if err := checkBox(box); err != nil {
				return fmt.Errorf("%s[%d].box: %w", keyBoundingBox, i, err)
			}
		}
	}
	return nil
}

// validateWindow requires key, when present, to be one [start, end] pair.
func validateWindow(key string) Validator {
	return func(a types.Annotation) error {
		v, ok := a.Get(key)
		if !ok || v == nil {
			return nil
		}
		if _, err := pair(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	}
}

// validateCaptionWindows requires one window per answer.
func validateCaptionWindows(a types.Annotation) error {
	v, ok := a.Get("A_window_frame")
	if !ok || v == nil {
		return nil
	}
	windows, err := Windows(v)
	if err != nil {
		return fmt.Errorf("A_window_frame: %w", err)
	}
	if answers, ok := a.Fields[keyAnswer].([]any); ok && len(answers) != len(windows) {
		return fmt.Errorf("A_window_frame has %d windows for %d answers", len(windows), len(answers))
	}
	return nil
}

// validateTrackingRef requires tracking_bboxes, when present, to be materialized.
func validateTrackingRef(a types.Annotation) error {
	v, ok := a.Get(types.KeyTrackingBBoxes)
	if !ok || v == nil {
		return nil
	}
	tb, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%s: expected object, got %T", types.KeyTrackingBBoxes, v)
	}
	ref, _ := tb[types.KeyMOTFile].(string)
	if ref == "" {
		return fmt.Errorf("%s: missing %s", types.KeyTrackingBBoxes, types.KeyMOTFile)
	}
	return nil
}

func defaultValidators(k Kind) []Validator {
	vs := []Validator{validateBase(k)}
	switch k {
	case ScoreboardSingle:
		vs = append(vs, validateBoxField(keyBoundingBox))
	case ObjectsSpatialRelationships:
		vs = append(vs, validateObjectBoxes)
	case SpatialTemporalGrounding, ObjectTracking:
		vs = append(vs,
			validateWindow(k.WindowKey()),
			validateBoxField(keyFirstBoundingBox),
			validateTrackingRef,
		)
	case ContinuousActionsCaption, ContinuousEventsCaption:
		vs = append(vs, validateCaptionWindows)
	}
	return vs
}

// Box parses a pixel box [xtl, ytl, xbr, ybr].
func Box(v any) ([4]float64, error) {
	var out [4]float64
	list, ok := v.([]any)
	if !ok {
		if fl, isFloats := v.([]float64); isFloats {
			list = make([]any, len(fl))
			for i, f := range fl {
				list[i] = f
			}
		} else {
			return out, fmt.Errorf("expected list of 4 numbers, got %T", v)
		}
	}
	if len(list) != 4 {
		return out, fmt.Errorf("expected 4 numbers, got %d", len(list))
	}
	for i, item := range list {
		n, ok := types.Number(item)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return out, fmt.Errorf("element %d is not a finite number", i)
		}
		out[i] = n
	}
	return out, nil
}

func checkBox(v any) error {
	b, err := Box(v)
	if err != nil {
		return err
	}
	if b[2]-b[0] <= 0 || b[3]-b[1] <= 0 {
		return fmt.Errorf("non-positive width or height in %v", b)
	}
	return nil
}

// Windows parses a single [start, end] pair or a list of pairs.
func Windows(v any) ([][2]int, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	if len(list) == 0 {
		return nil, nil
	}
	if _, nested := list[0].([]any); !nested {
		w, err := pair(list)
		if err != nil {
			return nil, err
		}
		return [][2]int{w}, nil
	}
	out := make([][2]int, 0, len(list))
	for i, item := range list {
		w, err := pair(item)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func pair(v any) ([2]int, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return [2]int{}, errors.New("expected [start, end]")
	}
	var w [2]int
	for i, item := range list {
		n, ok := types.Number(item)
		if !ok || n != math.Trunc(n) {
			return [2]int{}, fmt.Errorf("frame %v is not an integer", item)
		}
		w[i] = int(n)
	}
	if w[0] > w[1] {
		return [2]int{}, fmt.Errorf("start %d after end %d", w[0], w[1])
	}
	return w, nil
}
