package chatbot

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/YuminosukeSato/exoml/pkg/errors"
)

// LLMRequest is one system-prompted, single-turn completion.
type LLMRequest struct {
	System      string
	Message     string
	Temperature float64
}

// LLMClient completes a request with a hosted model.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (string, error)
}

// GeminiClient calls generateContent through the Gen AI SDK.
type GeminiClient struct {
	models *genai.Models
	model  string
}

// GeminiOption configures NewGeminiClient.
type GeminiOption func(*genai.ClientConfig)

// WithBaseURL points the client at another API root.
func WithBaseURL(url string) GeminiOption {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = url }
}

// WithHTTPClient replaces the default client (60s timeout).
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *genai.ClientConfig) { c.HTTPClient = hc }
}

// NewGeminiClient returns a client for model ("models/..." or a bare id).
func NewGeminiClient(ctx context.Context, apiKey, model string, opts ...GeminiOption) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return &GeminiClient{models: client.Models, model: model}, nil
}

// Complete sends the system prompt and the user message and returns the
// text of the first candidate.
func (c *GeminiClient) Complete(ctx context.Context, req LLMRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(float32(req.Temperature))}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(req.Message), cfg)
	if err != nil {
		return "", errors.Wrap(err, "generateContent request failed")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", errors.Newf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("generateContent returned no candidates")
	}
	text := resp.Text()
	if text == "" {
		return "", errors.Newf("empty candidate (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return text, nil
}
