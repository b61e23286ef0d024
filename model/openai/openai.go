// Package openai implements model.Client on any OpenAI-compatible chat
// completions endpoint. Only still images are supported; the media is sent
// inline as a data URL.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/pithecene-io/gloss/model"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o"

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client annotates images through chat completions.
type Client struct {
	cfg    Config
	client *goopenai.Client
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &Client{cfg: cfg, client: goopenai.NewClientWithConfig(cc)}, nil
}

// Upload reads an image into memory. Videos are rejected.
func (c *Client) Upload(_ context.Context, media model.Media) (*model.Handle, error) {
	if !strings.HasPrefix(media.MIMEType, "image/") {
		return nil, fmt.Errorf("openai: %s: %w", media.MIMEType, model.ErrUnsupportedMedia)
	}
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return nil, fmt.Errorf("openai: read %s: %w", media.Path, err)
	}
	return &model.Handle{Name: media.Path, MIMEType: media.MIMEType, Data: data}, nil
}

// Annotate sends the image and prompt and parses the JSON answer.
func (c *Client) Annotate(ctx context.Context, h *model.Handle, prompt string) (map[string]any, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	url := "data:" + h.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(h.Data)
	req := goopenai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []goopenai.ChatCompletionMessage{{
			Role: goopenai.ChatMessageRoleUser,
			MultiContent: []goopenai.ChatMessagePart{
				{Type: goopenai.ChatMessagePartTypeImageURL, ImageURL: &goopenai.ChatMessageImageURL{
					URL:    url,
					Detail: goopenai.ImageURLDetailHigh,
				}},
				{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
			},
		}},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, model.ErrEmptyResponse
	}
	return model.ParseObject(resp.Choices[0].Message.Content)
}

// Cleanup is a no-op; nothing is stored remotely.
func (c *Client) Cleanup(context.Context, *model.Handle) error { return nil }

var _ model.Client = (*Client)(nil)
