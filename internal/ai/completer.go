package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kdimtricp/cinesuggest/internal/config"
	"github.com/kdimtricp/cinesuggest/internal/httpx"
	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/metrics"
)

// Completer sends a JSON-serializable payload plus an instruction to a text
// completion service and returns the raw reply.
type Completer interface {
	Complete(ctx context.Context, payload any, instruction string) (string, error)
}

type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// ConfigFrom selects the credentials and endpoint of the configured provider.
func ConfigFrom(c config.CompletionConfig) Config {
	cfg := Config{
		Provider:     c.Provider,
		APIKey:       c.CompletionKey(),
		MaxTokens:    c.MaxTokens,
		SystemPrompt: c.SystemPrompt,
		Timeout:      c.Timeout,
	}
	if c.Provider == "gemini" {
		cfg.BaseURL, cfg.Model = c.GeminiURL, c.GeminiModel
	} else {
		cfg.BaseURL, cfg.Model = c.OpenAIURL, c.OpenAIModel
	}
	return cfg
}

// APIError is a non-2xx reply from a completion provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API returned status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// NewCompleter builds the configured provider behind a circuit breaker and a
// per-call timeout.
func NewCompleter(cfg Config, httpClient *http.Client) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	if httpClient == nil {
		httpClient = httpx.NewClient(cfg.Timeout, 0)
	}

	var inner Completer
	switch cfg.Provider {
	case "openai":
		inner = NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens, cfg.SystemPrompt, httpClient)
	case "gemini":
		inner = NewGeminiClient(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient)
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}

	log := logging.Component("ai")
	log.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("completion client enabled")
	return newGuardedCompleter(cfg.Provider, inner, cfg.Timeout), nil
}

type guardedCompleter struct {
	provider string
	inner    Completer
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker[string]
}

func newGuardedCompleter(provider string, inner Completer, timeout time.Duration) *guardedCompleter {
	return &guardedCompleter{
		provider: provider,
		inner:    inner,
		timeout:  timeout,
		cb:       httpx.NewBreaker[string]("completion-" + provider),
	}
}

func (g *guardedCompleter) Complete(ctx context.Context, payload any, instruction string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.CompletionDuration.WithLabelValues(g.provider).Observe(time.Since(start).Seconds())
	}()

	return httpx.Execute(g.cb, func() (string, error) {
		return g.inner.Complete(ctx, payload, instruction)
	})
}
