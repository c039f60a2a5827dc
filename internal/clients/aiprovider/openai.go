package aiprovider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sommos/sommos/internal/domain"
)

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint
type OpenAIClient struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
}

// NewOpenAIClient creates a chat-completions client
func NewOpenAIClient(cfg Config, log zerolog.Logger) *OpenAIClient {
	cfg.fill("openai", "https://api.openai.com/v1", "gpt-4o-mini")
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("provider", cfg.Name).Logger(),
	}
}

// Name identifies the provider in metrics and logs
func (c *OpenAIClient) Name() string {
	return c.cfg.Name
}

type openAIRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the first choice's content
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.cfg.Disabled {
		return "", domain.Errorf(domain.KindProviderError, "external calls disabled for provider %s", c.cfg.Name)
	}
	if c.cfg.APIKey == "" {
		return "", domain.Errorf(domain.KindProviderError, "api key not configured for provider %s", c.cfg.Name)
	}

	raw, err := postJSON(ctx, c.httpClient, c.cfg.BaseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
		openAIRequest{Model: c.cfg.Model, Messages: messages, MaxTokens: c.cfg.MaxTokens})
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", domain.Errorf(domain.KindProviderError, "malformed completion response: %v", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", domain.Errorf(domain.KindProviderError, "completion response has no content")
	}

	c.log.Debug().Int("messages", len(messages)).Msg("Completion returned")
	return resp.Choices[0].Message.Content, nil
}
