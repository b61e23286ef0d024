package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pithecene-io/gloss/task"
	"github.com/pithecene-io/gloss/types"
)

// Vars are the values substituted into a prompt template.
type Vars map[string]any

// SegmentVars returns the standard template variables of a segment:
// num_first_frame, total_frames, fps and duration_sec.
func SegmentVars(seg *types.Segment) Vars {
	return Vars{
		"num_first_frame": seg.Info.StartingFrame,
		"total_frames":    seg.Info.TotalFrames,
		"fps":             seg.Info.FPS,
		"duration_sec":    seg.Info.Duration(),
	}
}

// ErrMissingVar reports a placeholder with no value.
var ErrMissingVar = errors.New("missing prompt variable")

// Templates loads task prompts from {Dir}/{lowercase task}.md.
//
// Placeholders are written {name}; a literal brace is doubled ({{ or }}).
type Templates struct {
	Dir string
}

// Prompt renders the template of the named task.
func (t Templates) Prompt(name string, vars Vars) (string, error) {
	k := task.Parse(name)
	if !k.Known() {
		return "", fmt.Errorf("prompt: unknown task %q", name)
	}
	path := filepath.Join(t.Dir, k.PromptName()+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", name, err)
	}
	out, err := Render(string(data), vars)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", path, err)
	}
	return out, nil
}

// Missing lists task names whose template file does not exist.
func (t Templates) Missing() []string {
	var out []string
	for _, k := range task.All() {
		if _, err := os.Stat(filepath.Join(t.Dir, k.PromptName()+".md")); err != nil {
			out = append(out, k.String())
		}
	}
	return out
}

// Render substitutes {name} placeholders in tmpl.
func Render(tmpl string, vars Vars) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := strings.TrimSpace(tmpl[i+1 : i+1+end])
			v, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMissingVar, name)
			}
			b.WriteString(formatVar(v))
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func formatVar(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
