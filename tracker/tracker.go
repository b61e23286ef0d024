// Package tracker runs an external single-object tracker as a subprocess.
//
// The tracker binary receives one ipc.TrackRequest frame on stdin and
// streams ipc frames on stdout; stderr is captured for diagnostics.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/ipc"
	"github.com/pithecene-io/gloss/log"
	"github.com/pithecene-io/gloss/metrics"
	"github.com/pithecene-io/gloss/model"
)

// ErrNoResult is returned when the tracker exits without a result frame.
var ErrNoResult = errors.New("tracker exited without result")

// Config configures the tracker subprocess.
type Config struct {
	// Binary is the tracker executable.
	Binary string
	// Args are passed before any request data.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Timeout bounds one tracking call. Zero means no limit.
	Timeout time.Duration
}

// ProcessError is a tracker run that failed at the process level.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("tracker exited %d: %s", e.ExitCode, msg)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ResultError is a tracker that reported failure in its result frame.
type ResultError struct {
	Message string
}

func (e *ResultError) Error() string {
	return "tracker failed: " + e.Message
}

// Tracker implements model.Tracker over a subprocess.
type Tracker struct {
	config    Config
	runID     string
	logger    *log.Logger
	collector *metrics.Collector
}

// New creates a tracker. logger and collector may be nil.
func New(cfg Config, runID string, logger *log.Logger, collector *metrics.Collector) (*Tracker, error) {
	if cfg.Binary == "" {
		return nil, errors.New("tracker binary is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Tracker{config: cfg, runID: runID, logger: logger, collector: collector}, nil
}

// Track runs the tracker over [req.StartFrame, req.EndFrame].
func (t *Tracker) Track(ctx context.Context, req model.TrackRequest) (*artifact.Tracking, error) {
	if req.EndFrame < req.StartFrame {
		return nil, fmt.Errorf("track window [%d, %d] is empty", req.StartFrame, req.EndFrame)
	}
	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.config.Binary, t.config.Args...)
	if len(t.config.Env) > 0 {
		cmd.Env = append(os.Environ(), t.config.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		t.collector.IncTrackerLaunchFailure()
		return nil, &ProcessError{ExitCode: -1, Err: err}
	}
	t.collector.IncTrackerLaunchSuccess()

	frame := ipc.TrackRequest{
		Type:       ipc.TypeTrack,
		RunID:      t.runID,
		VideoPath:  req.VideoPath,
		StartFrame: req.StartFrame,
		EndFrame:   req.EndFrame,
		ObjectID:   req.ObjectID,
		Box:        req.Box,
	}
	if err := ipc.WriteFrame(stdin, frame); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if err := stdin.Close(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to close stdin: %w", err)
	}

	tracking, result, readErr := t.read(stdout)
	if readErr != nil {
		_ = cmd.Process.Kill()
	}
	// Drain so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		return nil, &ProcessError{ExitCode: exitCode(waitErr), Stderr: stderr.String(), Err: waitErr}
	}
	if result == nil {
		return nil, &ProcessError{ExitCode: 0, Stderr: stderr.String(), Err: ErrNoResult}
	}
	if !result.OK() {
		return nil, &ResultError{Message: result.Message}
	}
	return tracking, nil
}

func (t *Tracker) read(r io.Reader) (*artifact.Tracking, *ipc.ResultFrame, error) {
	dec := ipc.NewFrameDecoder(r)
	objects := make(map[int]*artifact.Object)
	var order []int
	var result *ipc.ResultFrame

	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.collector.IncIPCDecodeErrors()
			return nil, nil, fmt.Errorf("tracker stream: %w", err)
		}
		v, err := ipc.DecodeFrame(payload)
		if err != nil {
			t.collector.IncIPCDecodeErrors()
			t.logger.Warn("skipping undecodable tracker frame", map[string]any{"error": err.Error()})
			continue
		}
		switch f := v.(type) {
		case *ipc.BoxFrame:
			o, ok := objects[f.ObjectID]
			if !ok {
				o = &artifact.Object{ID: f.ObjectID, Frames: make(map[int]artifact.Box)}
				objects[f.ObjectID] = o
				order = append(order, f.ObjectID)
			}
			o.Frames[f.Frame] = artifact.Box(f.Box)
		case *ipc.ProgressFrame:
			t.logger.Debug("tracker progress", map[string]any{"done": f.Done, "total": f.Total})
		case *ipc.ResultFrame:
			result = f
		}
		if result != nil {
			break
		}
	}

	tracking := &artifact.Tracking{}
	for _, id := range order {
		tracking.Objects = append(tracking.Objects, *objects[id])
	}
	return tracking, result, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
	}
	return -1
}

var _ model.Tracker = (*Tracker)(nil)
