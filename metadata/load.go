// Package metadata reads and validates segment descriptors.
//
// A descriptor is one JSON file per clip or frame at
// {dataset_root}/{sport}/{event}/{clips|frames}/{id}.json declaring the
// tasks requested for that unit of media. The package is read-only.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pithecene-io/gloss/types"
)

// DurationTolerance is the allowed gap in seconds between a declared
// duration_sec and total_frames/fps.
const DurationTolerance = 0.1

// Task list keys, in lookup order.
var taskKeys = []string{"tasks_to_annotate", "task_to_annotate"}

// Load parses and validates the descriptor at path.
//
// Errors are *ParseError, *SchemaError or *ConsistencyError.
func Load(path string) (*types.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Decode(path, data)
}

// Decode validates descriptor bytes. path is used for error reporting
// and for inferring origin and kind from the dataset layout.
func Decode(path string, data []byte) (*types.Segment, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if raw == nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("expected a JSON object")}
	}

	schemaErr := func(field, format string, args ...any) error {
		return &SchemaError{Path: path, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	seg := &types.Segment{Path: path}

	id, err := idValue(raw["id"])
	if err != nil {
		return nil, schemaErr("id", "%v", err)
	}
	seg.ID = id

	dir, hasLayout := layoutFromPath(path)

	switch o := raw["origin"].(type) {
	case nil:
		if !hasLayout {
			return nil, schemaErr("origin", "missing and not inferable from path")
		}
		seg.Origin = types.Origin{Sport: dir.Sport, Event: dir.Event}
	case map[string]any:
		sport, _ := o["sport"].(string)
		event, _ := o["event"].(string)
		if strings.TrimSpace(sport) == "" {
			return nil, schemaErr("origin.sport", "must be a non-empty string")
		}
		if strings.TrimSpace(event) == "" {
			return nil, schemaErr("origin.event", "must be a non-empty string")
		}
		seg.Origin = types.Origin{Sport: sport, Event: event}
		if hasLayout && (dir.Sport != sport || dir.Event != event) {
			return nil, schemaErr("origin", "%s/%s disagrees with directory layout %s/%s",
				sport, event, dir.Sport, dir.Event)
		}
	default:
		return nil, schemaErr("origin", "expected object, got %T", o)
	}

	info, ok := raw["info"].(map[string]any)
	if !ok {
		return nil, schemaErr("info", "missing or not an object")
	}
	if seg.Info, err = decodeInfo(info); err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			se.Path = path
		}
		return nil, err
	}

	if hasLayout && dir.Kind != seg.Kind() {
		return nil, schemaErr("info.total_frames", "%d frames does not fit a %s descriptor",
			seg.Info.TotalFrames, dir.Kind)
	}

	if seg.Tasks, err = decodeTasks(raw); err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			se.Path = path
		}
		return nil, err
	}

	if d := seg.Info.DurationSec; d != nil {
		computed := seg.Info.Duration()
		if math.Abs(*d-computed) > DurationTolerance {
			return nil, &ConsistencyError{Path: path, Declared: *d, Computed: computed}
		}
	}

	return seg, nil
}

func decodeInfo(info map[string]any) (types.Info, error) {
	var out types.Info

	start, ok := info["original_starting_frame"]
	if !ok {
		start, ok = info["starting_frame"]
	}
	if !ok {
		return out, &SchemaError{Field: "info.original_starting_frame", Reason: "missing"}
	}
	n, ok := intValue(start)
	if !ok || n < 0 {
		return out, &SchemaError{Field: "info.original_starting_frame", Reason: "must be a non-negative integer"}
	}
	out.StartingFrame = n

	total, ok := intValue(info["total_frames"])
	if !ok || total <= 0 {
		return out, &SchemaError{Field: "info.total_frames", Reason: "must be a positive integer"}
	}
	out.TotalFrames = total

	fps, ok := types.Number(info["fps"])
	if !ok || fps <= 0 || math.IsInf(fps, 0) || math.IsNaN(fps) {
		return out, &SchemaError{Field: "info.fps", Reason: "must be a positive number"}
	}
	out.FPS = fps

	if v, present := info["duration_sec"]; present && v != nil {
		d, ok := types.Number(v)
		if !ok || d < 0 {
			return out, &SchemaError{Field: "info.duration_sec", Reason: "must be a non-negative number"}
		}
		out.DurationSec = &d
	}
	return out, nil
}

// decodeTasks trims names, drops blanks and removes duplicates keeping the
// first occurrence. A missing list is an empty list.
func decodeTasks(raw map[string]any) ([]string, error) {
	var (
		value any
		field = taskKeys[0]
	)
	for _, key := range taskKeys {
		if v, ok := raw[key]; ok {
			value, field = v, key
			break
		}
	}
	if value == nil {
		return []string{}, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, &SchemaError{Field: field, Reason: fmt.Sprintf("expected list, got %T", value)}
	}
	seen := make(map[string]bool, len(list))
	tasks := make([]string, 0, len(list))
	for i, item := range list {
		name, ok := item.(string)
		if !ok {
			return nil, &SchemaError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "must be a string"}
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tasks = append(tasks, name)
	}
	return tasks, nil
}

func idValue(v any) (string, error) {
	var id string
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("missing")
	case string:
		id = strings.TrimSpace(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil || n < 0 {
			return "", fmt.Errorf("numeric id must be a non-negative integer")
		}
		id = x.String()
	default:
		return "", fmt.Errorf("expected string or integer, got %T", v)
	}
	if id == "" {
		return "", fmt.Errorf("must not be empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%q is not a valid file name", id)
	}
	return id, nil
}

func intValue(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, false
			}
			return int(f), true
		}
		return int(n), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	default:
		return 0, false
	}
}

type layout struct {
	Sport string
	Event string
	Kind  types.Kind
}

// layoutFromPath reads sport, event and kind from
// .../{sport}/{event}/{clips|frames}/{file}.json.
func layoutFromPath(path string) (layout, bool) {
	kindDir := filepath.Dir(path)
	kind, ok := types.KindFromDir(filepath.Base(kindDir))
	if !ok {
		return layout{}, false
	}
	eventDir := filepath.Dir(kindDir)
	sportDir := filepath.Dir(eventDir)
	event, sport := filepath.Base(eventDir), filepath.Base(sportDir)
	if event == "." || event == string(filepath.Separator) || sport == "." || sport == string(filepath.Separator) {
		return layout{}, false
	}
	return layout{Sport: sport, Event: event, Kind: kind}, true
}
