package aiprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// AnthropicClient talks to an Anthropic-style messages endpoint
type AnthropicClient struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewAnthropicClient creates a messages-API client
func NewAnthropicClient(cfg Config, log zerolog.Logger) *AnthropicClient {
	cfg.fill("anthropic", "https://api.anthropic.com", "claude-3-5-haiku-20241022")
	return &AnthropicClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("provider", cfg.Name).Logger(),
	}
}

// Name identifies the provider in metrics and logs
func (c *AnthropicClient) Name() string {
	return c.cfg.Name
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends the conversation and returns the concatenated text blocks
func (c *AnthropicClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.cfg.Disabled {
		return "", domain.Errorf(domain.KindProviderError, "external calls disabled for provider %s", c.cfg.Name)
	}
	if c.cfg.APIKey == "" {
		return "", domain.Errorf(domain.KindProviderError, "api key not configured for provider %s", c.cfg.Name)
	}

	raw, err := postJSON(ctx, c.httpClient, c.cfg.BaseURL+"/v1/messages",
		map[string]string{
			"x-api-key":         c.cfg.APIKey,
			"anthropic-version": "2023-06-01",
		},
		anthropicRequest{Model: c.cfg.Model, Messages: messages, MaxTokens: c.cfg.MaxTokens})
	if err != nil {
		return "", err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", domain.Errorf(domain.KindProviderError, "malformed messages response: %v", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", domain.Errorf(domain.KindProviderError, "messages response has no text content")
	}

	c.log.Debug().Int("messages", len(messages)).Msg("Completion returned")
	return sb.String(), nil
}
