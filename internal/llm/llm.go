// Package llm talks to the generation model behind the report agents.
// One provider (a Gemini-style generateContent API) is all the service
// needs; the Client interface keeps steps testable without the network.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Defaults match the production deployment: a fast model, JSON answers.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash"
)

// ErrNoAPIKey is returned by NewClient when no API key is configured.
// Callers that support an offline mode check for it explicitly.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// APIError is a non-2xx response from the model API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: api error: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status warrants another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode <= 504)
}

// GenerateRequest is a single JSON-mode generation call.
type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
}

// GenerateResponse carries the model's text plus cost metadata.
type GenerateResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Client generates model responses. Implementations must be safe for
// concurrent use.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Config holds the connection settings for the model API.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns a Config with production defaults applied.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Model:           DefaultModel,
		Timeout:         2 * time.Minute,
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
	}
}

// WithBackoff sets the retry backoff window.
func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(c *Config) {
		c.InitialInterval = initial
		c.MaxInterval = maxInterval
	}
}

// NewConfig creates a Config with defaults and the given options applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
