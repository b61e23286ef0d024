package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Reserved annotation keys. Everything else is task payload.
const (
	KeyAnnotationID   = "annotation_id"
	KeyTaskL1         = "task_L1"
	KeyTaskL2         = "task_L2"
	KeyReviewed       = "reviewed"
	KeyTrackingBBoxes = "tracking_bboxes"
	KeyMOTFile        = "mot_file"
	// KeyTrackingRef is a legacy top-level reference to a tracking side file.
	KeyTrackingRef = "tracking_ref"
)

// MOTFormat is the format label stored next to a tracking side file reference.
const MOTFormat = "MOTChallenge"

// Annotation is one task result within an output record.
// Payload fields are opaque and preserved verbatim across load and save.
type Annotation struct {
	ID       string
	TaskL1   string
	TaskL2   string
	Reviewed bool
	Fields   map[string]any
}

// Get returns a payload field.
func (a Annotation) Get(key string) (any, bool) {
	v, ok := a.Fields[key]
	return v, ok
}

// Set returns a copy of the annotation with key set to value.
func (a Annotation) Set(key string, value any) Annotation {
	c := a.Clone()
	if c.Fields == nil {
		c.Fields = make(map[string]any)
	}
	c.Fields[key] = value
	return c
}

// Without returns a copy of the annotation with key removed.
func (a Annotation) Without(key string) Annotation {
	c := a.Clone()
	delete(c.Fields, key)
	return c
}

// Clone returns a deep copy.
func (a Annotation) Clone() Annotation {
	c := a
	if a.Fields != nil {
		c.Fields = CloneValue(a.Fields).(map[string]any)
	}
	return c
}

// TrackingRef returns the tracking side file reference owned by the annotation.
// It reads tracking_bboxes.mot_file and falls back to the legacy top-level keys.
func (a Annotation) TrackingRef() string {
	if tb, ok := a.Fields[KeyTrackingBBoxes].(map[string]any); ok {
		if ref, ok := tb[KeyMOTFile].(string); ok {
			return strings.TrimSpace(ref)
		}
	}
	for _, key := range []string{KeyMOTFile, KeyTrackingRef} {
		if ref, ok := a.Fields[key].(string); ok {
			return strings.TrimSpace(ref)
		}
	}
	return ""
}

// WithTrackingRef returns a copy whose tracking_bboxes points at ref.
func (a Annotation) WithTrackingRef(ref string) Annotation {
	return a.Set(KeyTrackingBBoxes, map[string]any{
		KeyMOTFile: ref,
		"format":   MOTFormat,
	})
}

// PayloadLen returns the number of non-reserved fields.
func (a Annotation) PayloadLen() int {
	return len(a.Fields)
}

// MarshalJSON writes reserved keys first, then payload keys in sorted order.
func (a Annotation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(first bool, key string, value any) error {
		if !first {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := write(true, KeyAnnotationID, a.ID); err != nil {
		return nil, err
	}
	if err := write(false, KeyTaskL1, a.TaskL1); err != nil {
		return nil, err
	}
	if err := write(false, KeyTaskL2, a.TaskL2); err != nil {
		return nil, err
	}
	if err := write(false, KeyReviewed, a.Reviewed); err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(a.Fields) {
		if err := write(false, key, a.Fields[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts legacy numeric annotation ids and keeps unknown keys.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	*a = Annotation{Fields: make(map[string]any, len(raw))}
	for key, value := range raw {
		switch key {
		case KeyAnnotationID:
			a.ID = scalarString(value)
		case KeyTaskL1:
			a.TaskL1 = scalarString(value)
		case KeyTaskL2:
			a.TaskL2 = scalarString(value)
		case KeyReviewed:
			b, ok := value.(bool)
			if !ok && value != nil {
				return fmt.Errorf("reviewed: expected bool, got %T", value)
			}
			a.Reviewed = b
		default:
			a.Fields[key] = value
		}
	}
	return nil
}

// Output is the persisted per-segment annotation record.
type Output struct {
	ID          string
	Origin      Origin
	Annotations []Annotation
	// Extra holds top-level keys gloss does not own.
	Extra map[string]any
}

// NewOutput starts an empty output for seg.
func NewOutput(seg *Segment) *Output {
	return &Output{ID: seg.ID, Origin: seg.Origin, Annotations: []Annotation{}}
}

// Clone returns a deep copy of the output.
func (o *Output) Clone() *Output {
	if o == nil {
		return nil
	}
	c := &Output{ID: o.ID, Origin: o.Origin, Annotations: make([]Annotation, len(o.Annotations))}
	for i, a := range o.Annotations {
		c.Annotations[i] = a.Clone()
	}
	if o.Extra != nil {
		c.Extra = CloneValue(o.Extra).(map[string]any)
	}
	return c
}

// Find returns the annotation for task, if present.
func (o *Output) Find(task string) (Annotation, bool) {
	if o == nil {
		return Annotation{}, false
	}
	for _, a := range o.Annotations {
		if a.TaskL2 == task {
			return a, true
		}
	}
	return Annotation{}, false
}

// Tasks lists the task_L2 values of the annotations in order.
func (o *Output) Tasks() []string {
	if o == nil {
		return nil
	}
	out := make([]string, 0, len(o.Annotations))
	for _, a := range o.Annotations {
		out = append(out, a.TaskL2)
	}
	return out
}

type outputJSON struct {
	ID          string       `json:"id"`
	Origin      Origin       `json:"origin"`
	Annotations []Annotation `json:"annotations"`
}

// MarshalJSON writes id, origin and annotations first, then extra keys sorted.
func (o Output) MarshalJSON() ([]byte, error) {
	anns := o.Annotations
	if anns == nil {
		anns = []Annotation{}
	}
	head, err := json.Marshal(outputJSON{ID: o.ID, Origin: o.Origin, Annotations: anns})
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return head, nil
	}
	var buf bytes.Buffer
	buf.Write(head[:len(head)-1])
	for _, key := range sortedKeys(o.Extra) {
		k, _ := json.Marshal(key)
		v, err := json.Marshal(o.Extra[key])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		buf.WriteByte(',')
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts numeric ids and preserves unknown top-level keys.
func (o *Output) UnmarshalJSON(data []byte) error {
	var head struct {
		Origin      *Origin       `json:"origin"`
		Annotations []Annotation `json:"annotations"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	raw, err := decodeObject(data)
	if err != nil {
		return err
	}
	*o = Output{Annotations: head.Annotations}
	if head.Origin != nil {
		o.Origin = *head.Origin
	}
	o.ID = scalarString(raw["id"])
	for key, value := range raw {
		switch key {
		case "id", "origin", "annotations":
		default:
			if o.Extra == nil {
				o.Extra = make(map[string]any)
			}
			o.Extra[key] = value
		}
	}
	return nil
}

// CloneValue deep-copies decoded JSON values (maps, slices and scalars).
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Number converts a decoded JSON number to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("expected JSON object")
	}
	return raw, nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
