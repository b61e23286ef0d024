// Package media extracts still frames from clips and reads frame images.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pithecene-io/gloss/model"
	"github.com/pithecene-io/gloss/types"
)

// DefaultFFmpeg is the ffmpeg binary looked up on PATH.
const DefaultFFmpeg = "ffmpeg"

// ErrFrameRange reports a frame index outside the clip.
var ErrFrameRange = errors.New("frame out of range")

// ProcessError is a failed ffmpeg invocation.
type ProcessError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("ffmpeg exited %d: %s", e.ExitCode, msg)
}

// Unwrap returns the exec error.
func (e *ProcessError) Unwrap() error { return e.Err }

// FFmpeg extracts frames by piping a single JPEG out of ffmpeg.
type FFmpeg struct {
	// Binary defaults to DefaultFFmpeg.
	Binary string
}

// FrameArgs builds the ffmpeg arguments that write clip-relative frame
// (0-indexed) of videoPath to stdout as a JPEG.
func FrameArgs(videoPath string, frame int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", `select=eq(n\,` + strconv.Itoa(frame) + `)`,
		"-vsync", "0",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}
}

// Extract decodes one frame of videoPath.
func (f FFmpeg) Extract(ctx context.Context, videoPath string, frame int) (model.Image, error) {
	if frame < 0 {
		return model.Image{}, fmt.Errorf("%w: %d", ErrFrameRange, frame)
	}
	if _, err := os.Stat(videoPath); err != nil {
		return model.Image{}, fmt.Errorf("extract frame: %w", err)
	}
	bin := f.Binary
	if bin == "" {
		bin = DefaultFFmpeg
	}

	args := FrameArgs(videoPath, frame)
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		pe := &ProcessError{Args: args, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			pe.ExitCode = exitErr.ExitCode()
		}
		return model.Image{}, pe
	}
	if stdout.Len() == 0 {
		return model.Image{}, fmt.Errorf("%w: %d in %s", ErrFrameRange, frame, filepath.Base(videoPath))
	}
	return Decode(stdout.Bytes())
}

// Decode reads the dimensions and format of an encoded image.
func Decode(data []byte) (model.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Image{}, fmt.Errorf("decode image: %w", err)
	}
	return model.Image{
		Data:     data,
		MIMEType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// ReadImage loads and decodes an image file.
func ReadImage(path string) (model.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Image{}, fmt.Errorf("read image: %w", err)
	}
	img, err := Decode(data)
	if err != nil {
		return model.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// MIMEType returns the upload MIME type of a segment's media.
func MIMEType(k types.Kind) string {
	if k == types.KindFrame {
		return "image/jpeg"
	}
	return "video/mp4"
}

// Extractor returns frames of clips with ffmpeg and serves single-frame
// segments straight from their image file.
type Extractor struct {
	FFmpeg FFmpeg
}

// Extract implements model.FrameExtractor. Image paths are read directly and
// only frame 0 exists.
func (e Extractor) Extract(ctx context.Context, path string, frame int) (model.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		if frame != 0 {
			return model.Image{}, fmt.Errorf("%w: %d in still image", ErrFrameRange, frame)
		}
		return ReadImage(path)
	default:
		return e.FFmpeg.Extract(ctx, path, frame)
	}
}

var (
	_ model.FrameExtractor = FFmpeg{}
	_ model.FrameExtractor = Extractor{}
)
