// Package aiprovider implements chat-completion clients for the AI
// pairing and narrative providers. Two wire shapes are supported: the
// OpenAI chat-completions API and the Anthropic messages API.
package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sommos/sommos/internal/domain"
)

// DefaultTimeout is the per-call budget for provider requests
const DefaultTimeout = 30 * time.Second

// ChatMessage is one turn of a chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a chat-completion provider
type Client interface {
	Name() string
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
}

// Config describes one provider endpoint.
// Disabled short-circuits all outbound calls.
type Config struct {
	Name      string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Disabled  bool
}

func (c *Config) fill(defaultName, defaultBaseURL, defaultModel string) {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// postJSON sends the request body and returns the raw response bytes.
// Transport failures and non-200 statuses come back as classified
// provider errors.
func postJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, body interface{}) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, domain.Errorf(domain.KindProviderError, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, domain.Errorf(domain.KindProviderError, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Errorf(domain.KindProviderError, "provider returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	return raw, nil
}

// classifyTransport maps transport failures onto provider kinds
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindProviderTimeout, "provider call exceeded deadline", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindCancelled, "provider call cancelled", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return domain.NewError(domain.KindProviderTimeout, "provider call timed out", err)
	}
	return domain.NewError(domain.KindProviderError, "provider call failed", err)
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return fmt.Sprintf("%s...", raw[:n])
}
