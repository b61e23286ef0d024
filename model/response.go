package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/types"
)

// ParseJSON decodes a model answer, tolerating a surrounding ```json fence.
// Numbers decode as json.Number.
func ParseJSON(text string) (any, error) {
	s := StripFence(text)
	if s == "" {
		return nil, ErrEmptyResponse
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ResponseError{Text: text, Reason: "invalid JSON", Err: err}
	}
	return v, nil
}

// StripFence removes a leading ``` or ```json line and a trailing ```.
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Normalize accepts an object or a list holding exactly one object.
func Normalize(v any) (map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return x, nil
	case []any:
		if len(x) == 1 {
			if obj, ok := x[0].(map[string]any); ok {
				return obj, nil
			}
		}
		return nil, &ResponseError{Reason: fmt.Sprintf("expected one object, got list of %d", len(x))}
	default:
		return nil, &ResponseError{Reason: fmt.Sprintf("expected object, got %T", v)}
	}
}

// ParseObject is ParseJSON followed by Normalize.
func ParseObject(text string) (map[string]any, error) {
	v, err := ParseJSON(text)
	if err != nil {
		return nil, err
	}
	obj, err := Normalize(v)
	if err != nil {
		var re *ResponseError
		if errors.As(err, &re) {
			re.Text = text
		}
		return nil, err
	}
	return obj, nil
}

// GroundingScale is the coordinate range of grounding model boxes.
const GroundingScale = 1000.0

// FromNormalized converts a grounding box [ymin, xmin, ymax, xmax] in
// 0..1000 units to a pixel box [xtl, ytl, xbr, ybr].
func FromNormalized(box2d [4]float64, width, height int) artifact.Box {
	w, h := float64(width), float64(height)
	return artifact.Box{
		box2d[1] / GroundingScale * w,
		box2d[0] / GroundingScale * h,
		box2d[3] / GroundingScale * w,
		box2d[2] / GroundingScale * h,
	}
}

// ParseBoxes extracts every box_2d from a grounding answer shaped as
// [{"box_2d": [ymin, xmin, ymax, xmax]}, ...].
func ParseBoxes(text string) ([][4]float64, error) {
	v, err := ParseJSON(text)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		if obj, isObj := v.(map[string]any); isObj {
			list = []any{obj}
		} else {
			return nil, &ResponseError{Text: text, Reason: fmt.Sprintf("expected list of boxes, got %T", v)}
		}
	}
	var boxes [][4]float64
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := obj["box_2d"].([]any)
		if !ok {
			continue
		}
		if len(raw) != 4 {
			return nil, &ResponseError{Text: text, Reason: fmt.Sprintf("box %d: expected 4 coordinates, got %d", i, len(raw))}
		}
		var b [4]float64
		for j, c := range raw {
			f, ok := types.Number(c)
			if !ok {
				return nil, &ResponseError{Text: text, Reason: fmt.Sprintf("box %d: coordinate %d is %T", i, j, c)}
			}
			b[j] = f
		}
		boxes = append(boxes, b)
	}
	if len(boxes) == 0 {
		return nil, &ResponseError{Text: text, Reason: "no box_2d in answer"}
	}
	return boxes, nil
}

// GroundingPrompt asks for exactly one box matching description.
func GroundingPrompt(description string) string {
	return fmt.Sprintf(`Detect a single object that matches this description: %q.
Return a JSON array with exactly one element, containing only the bounding box coordinates:
[{"box_2d": [ymin, xmin, ymax, xmax]}]
Coordinates are normalized in the range 0-1000. Do not return masks, labels, or extra objects.`, description)
}
