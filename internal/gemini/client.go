package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"nicrolabs-studio/internal/generate"
)

const (
	DefaultFastModel = "gemini-2.5-flash-image"
	DefaultProModel  = "gemini-3-pro-image-preview"
	DefaultTextModel = "gemini-2.5-flash"

	imageSizeHigh = "4K"
)

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	FastModel  string
	ProModel   string
	TextModel  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client adapts the Gemini API to the image model and suggestion ports.
type Client struct {
	genai     *genai.Client
	fastModel string
	proModel  string
	textModel string
	logger    *slog.Logger
}

func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
			APIVersion: strings.TrimSpace(opts.APIVersion),
		},
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		genai:     gc,
		fastModel: orDefault(opts.FastModel, DefaultFastModel),
		proModel:  orDefault(opts.ProModel, DefaultProModel),
		textModel: orDefault(opts.TextModel, DefaultTextModel),
		logger:    logger,
	}, nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// ModelFor maps a tier to a model name.
func (c *Client) ModelFor(tier generate.Tier) string {
	if tier == generate.TierPro {
		return c.proModel
	}
	return c.fastModel
}

// GenerateImage sends the labelled images followed by the instruction. The
// 4K image size is only requested from the pro model.
func (c *Client) GenerateImage(ctx context.Context, req generate.Request) ([]generate.Part, error) {
	model := c.ModelFor(req.Tier)

	parts := make([]*genai.Part, 0, 2*len(req.Images)+1)
	for _, img := range req.Images {
		if img.Label != "" {
			parts = append(parts, genai.NewPartFromText(img.Label))
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	imageConfig := &genai.ImageConfig{AspectRatio: string(req.AspectRatio)}
	if req.HighFidelity && model == c.proModel {
		imageConfig.ImageSize = imageSizeHigh
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		ImageConfig:        imageConfig,
	}

	c.logger.Debug("gemini generate", "model", model, "images", len(req.Images), "aspect_ratio", req.AspectRatio, "image_size", imageConfig.ImageSize)

	resp, err := c.genai.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", model, err)
	}

	return responseParts(resp), nil
}

// SuggestJSON asks the text model for a JSON document.
func (c *Client) SuggestJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.textModel, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", c.textModel, err)
	}

	for _, p := range responseParts(resp) {
		if strings.TrimSpace(p.Text) != "" {
			return p.Text, nil
		}
	}
	return "", errors.New("no suggestion generated")
}

func responseParts(resp *genai.GenerateContentResponse) []generate.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var out []generate.Part
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			out = append(out, generate.Part{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data})
			continue
		}
		if p.Text != "" {
			out = append(out, generate.Part{Text: p.Text})
		}
	}
	return out
}
