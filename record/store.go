package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/gloss/iox"
	"github.com/pithecene-io/gloss/types"
)

// ErrNotFound reports that no output exists for a segment yet.
var ErrNotFound = errors.New("output not found")

// ErrMissingAnnotations reports an output without an annotations list.
var ErrMissingAnnotations = errors.New("missing annotations list")

// DecodeError reports an output file that exists but is not a valid record.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode output %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *DecodeError) Unwrap() error { return e.Err }

// Path returns the output file path of key under root.
func Path(root string, key types.SegmentKey) string {
	return filepath.Join(root, key.RelPath())
}

// Load reads the output record at path.
// A missing file yields ErrNotFound; malformed content, including an
// absent or null annotations list, a *DecodeError.
func Load(path string) (*types.Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read output %s: %w", path, err)
	}
	var out types.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	var shape struct {
		Annotations json.RawMessage `json:"annotations"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if len(shape.Annotations) == 0 || string(shape.Annotations) == "null" {
		return nil, &DecodeError{Path: path, Err: ErrMissingAnnotations}
	}
	if out.Annotations == nil {
		out.Annotations = []types.Annotation{}
	}
	return &out, nil
}

// LoadExisting is Load with a missing file mapped to (nil, nil).
func LoadExisting(path string) (*types.Output, error) {
	out, err := Load(path)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return out, err
}

// Encode renders out as indented JSON with a trailing newline.
func Encode(out *types.Output) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode output %s: %w", out.ID, err)
	}
	return buf.Bytes(), nil
}

// Save writes out to path atomically. On failure the previous file, if
// any, is left intact.
func Save(path string, out *types.Output) error {
	data, err := Encode(out)
	if err != nil {
		return err
	}
	if err := iox.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write output %s: %w", path, err)
	}
	return nil
}
