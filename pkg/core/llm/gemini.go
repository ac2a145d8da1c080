package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when a request carries no model.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiOption configures the Gemini provider.
type GeminiOption func(*genai.ClientConfig)

// WithGeminiBaseURL points the client at a different API host.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// GeminiProvider generates replies with the Gemini API.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini creates a Gemini provider for apiKey.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Generate sends the history as user/model contents with the system prompt
// as the system instruction.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	model := stripProviderPrefix(req.Model)
	if model == "" {
		model = DefaultGeminiModel
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == RoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}

	var cfg *genai.GenerateContentConfig
	if system := strings.TrimSpace(req.System); system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
