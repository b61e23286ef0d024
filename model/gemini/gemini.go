// Package gemini implements the model collaborators on the Gemini API.
//
// Media is uploaded through the Files service and polled until it leaves
// the PROCESSING state. Every generate call passes through a shared rate
// limiter and is retried with exponential backoff.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/pithecene-io/gloss/artifact"
	"github.com/pithecene-io/gloss/model"
)

// Defaults.
const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultGroundingModel = "gemini-robotics-er-1.5-preview"
	DefaultPollInterval   = 2 * time.Second
	DefaultUploadTimeout  = 5 * time.Minute
	DefaultRetries        = 3
)

// Config configures a Client.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL        string
	Model          string
	GroundingModel string
	// VideoFPS is the sampling rate requested for video parts. 0 leaves the
	// provider default.
	VideoFPS float64
	// RequestsPerSecond bounds generate calls. 0 disables limiting.
	RequestsPerSecond float64
	PollInterval      time.Duration
	UploadTimeout     time.Duration
	// Timeout bounds each generate call. 0 means no extra bound.
	Timeout    time.Duration
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.GroundingModel == "" {
		c.GroundingModel = DefaultGroundingModel
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

type fileService interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

type contentService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client annotates media and grounds descriptions with Gemini models.
// Safe for concurrent use.
type Client struct {
	cfg     Config
	files   fileService
	models  contentService
	limiter *rate.Limiter
	backoff func(attempt int) time.Duration
}

// ErrProcessingFailed is returned when the file service rejects an upload.
var ErrProcessingFailed = errors.New("media processing failed")

// New connects to the Gemini API.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return newClient(cfg, gc.Files, gc.Models), nil
}

func newClient(cfg Config, files fileService, models contentService) *Client {
	cfg.applyDefaults()
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		files:   files,
		models:  models,
		limiter: rate.NewLimiter(limit, 1),
		backoff: func(i int) time.Duration {
			return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
		},
	}
}

// Upload sends the media file to the Files service and waits until it is
// ready for generation.
func (c *Client) Upload(ctx context.Context, media model.Media) (*model.Handle, error) {
	f, err := c.files.UploadFromPath(ctx, media.Path, &genai.UploadFileConfig{MIMEType: media.MIMEType})
	if err != nil {
		return nil, fmt.Errorf("gemini: upload %s: %w", media.Path, err)
	}

	deadline := time.Now().Add(c.cfg.UploadTimeout)
	for f.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			c.discard(f.Name)
			return nil, fmt.Errorf("gemini: %s still processing after %s", f.Name, c.cfg.UploadTimeout)
		}
		select {
		case <-ctx.Done():
			c.discard(f.Name)
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
		if f, err = c.files.Get(ctx, f.Name, nil); err != nil {
			return nil, fmt.Errorf("gemini: poll upload: %w", err)
		}
	}
	if f.State == genai.FileStateFailed {
		c.discard(f.Name)
		return nil, fmt.Errorf("gemini: %s: %w", f.Name, ErrProcessingFailed)
	}

	mime := f.MIMEType
	if mime == "" {
		mime = media.MIMEType
	}
	return &model.Handle{Name: f.Name, URI: f.URI, MIMEType: mime}, nil
}

// Annotate prompts the annotation model with the uploaded media.
func (c *Client) Annotate(ctx context.Context, h *model.Handle, prompt string) (map[string]any, error) {
	media := &genai.Part{FileData: &genai.FileData{FileURI: h.URI, MIMEType: h.MIMEType}}
	if strings.HasPrefix(h.MIMEType, "video/") && c.cfg.VideoFPS > 0 {
		fps := c.cfg.VideoFPS
		media.VideoMetadata = &genai.VideoMetadata{FPS: &fps}
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{media, genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	text, err := c.generate(ctx, c.cfg.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return model.ParseObject(text)
}

// Cleanup deletes the uploaded file.
func (c *Client) Cleanup(ctx context.Context, h *model.Handle) error {
	if h == nil || h.Name == "" {
		return nil
	}
	if _, err := c.files.Delete(ctx, h.Name, nil); err != nil {
		return fmt.Errorf("gemini: delete %s: %w", h.Name, err)
	}
	return nil
}

// Locate grounds description on img with the grounding model.
func (c *Client) Locate(ctx context.Context, img model.Image, description string) (artifact.Box, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, img.MIMEType),
			genai.NewPartFromText(model.GroundingPrompt(description)),
		}, genai.RoleUser),
	}
	text, err := c.generate(ctx, c.cfg.GroundingModel, contents, &genai.GenerateContentConfig{
		Temperature:    genai.Ptr[float32](0),
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	})
	if err != nil {
		return artifact.Box{}, err
	}
	boxes, err := model.ParseBoxes(text)
	if err != nil {
		return artifact.Box{}, err
	}
	return model.FromNormalized(boxes[0], img.Width, img.Height), nil
}

func (c *Client) generate(ctx context.Context, modelName string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	var lastErr error
	attempts := 1 + c.cfg.MaxRetries
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("gemini: canceled during backoff: %w", ctx.Err())
			case <-time.After(c.backoff(i)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("gemini: rate limiter: %w", err)
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		}
		resp, err := c.models.GenerateContent(callCtx, modelName, contents, cfg)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", model.ErrEmptyResponse
		}
		return text, nil
	}
	return "", fmt.Errorf("gemini: generate failed after %d attempts: %w", attempts, lastErr)
}

// discard deletes an upload that will not be used.
func (c *Client) discard(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = c.files.Delete(ctx, name, nil)
}

var (
	_ model.Client   = (*Client)(nil)
	_ model.Grounder = (*Client)(nil)
)
