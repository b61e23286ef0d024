// Package model defines the collaborators the annotation pipeline calls out
// to: the multimodal annotation client, the box grounder, the object
// tracker, the frame extractor and the prompt source.
//
// Provider implementations live in subpackages (gemini, openai). The
// helpers here parse model responses the same way for every provider.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/gloss/artifact"
)

// Media is a local file handed to a client for upload.
type Media struct {
	Path     string
	MIMEType string
}

// IsVideo reports whether the media is a video.
func (m Media) IsVideo() bool {
	return len(m.MIMEType) > 6 && m.MIMEType[:6] == "video/"
}

// Handle references media a client has made available to the model.
type Handle struct {
	// Name is the provider's identifier, used for cleanup.
	Name     string
	URI      string
	MIMEType string
	// Data holds inline bytes for providers without a file service.
	Data []byte
}

// Image is a decoded still frame.
type Image struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// TrackRequest asks a tracker to follow one object through a frame window.
type TrackRequest struct {
	VideoPath string
	// StartFrame and EndFrame are clip-relative and inclusive.
	StartFrame int
	EndFrame   int
	// Box is the object's pixel box on StartFrame.
	Box      artifact.Box
	ObjectID int
}

// Client is a multimodal annotation model.
type Client interface {
	Upload(ctx context.Context, media Media) (*Handle, error)
	// Annotate prompts the model with the handle's media and returns the
	// normalized JSON object it answered with.
	Annotate(ctx context.Context, h *Handle, prompt string) (map[string]any, error)
	Cleanup(ctx context.Context, h *Handle) error
}

// Grounder converts a natural language description into a pixel box.
type Grounder interface {
	Locate(ctx context.Context, img Image, description string) (artifact.Box, error)
}

// Tracker follows an object through a window of a clip.
type Tracker interface {
	Track(ctx context.Context, req TrackRequest) (*artifact.Tracking, error)
}

// FrameExtractor decodes one clip-relative frame of a video.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string, frame int) (Image, error)
}

// PromptSource renders the prompt of a task.
type PromptSource interface {
	Prompt(task string, vars Vars) (string, error)
}

// ErrUnsupportedMedia is returned by clients that cannot handle a media type.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// ResponseError is a model answer that could not be interpreted.
type ResponseError struct {
	Text   string
	Reason string
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model response: %s: %v", e.Reason, e.Err)
	}
	return "model response: " + e.Reason
}

// Unwrap returns the underlying parse error, if any.
func (e *ResponseError) Unwrap() error { return e.Err }
