package completion

import (
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

var Providers = []string{ProviderOpenAI, ProviderOllama}

type Config struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaURL     string
	DefaultModel  string
	RateLimit     float64 // Requests per second across all sessions, 0 disables
	RateBurst     int
	RetryAttempts int // Total attempts for rate-limited requests, 1 disables retries
	RetryBackoff  time.Duration
}

// New builds the shared client: provider, then throttle, then retry.
func New(log *zap.Logger, c Config) (Client, error) {
	provider, err := newProvider(log, c)
	if err != nil {
		return nil, err
	}

	client := provider
	if c.RateLimit > 0 {
		client = NewThrottled(client, rate.Limit(c.RateLimit), c.RateBurst)
	}
	if c.RetryAttempts > 1 {
		client = NewRetrying(log, client, c.RetryAttempts, c.RetryBackoff)
	}
	return client, nil
}

func newProvider(log *zap.Logger, c Config) (Client, error) {
	switch c.Provider {
	case "", ProviderOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			log.Warn("No OpenAI API key configured, every completion will fail.")
			return Unconfigured{}, nil
		}
		opts := []openai.Option{openai.WithToken(c.OpenAIAPIKey)}
		if c.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.OpenAIBaseURL))
		}
		if c.DefaultModel != "" {
			opts = append(opts, openai.WithModel(c.DefaultModel))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create OpenAI model: %w", err)
		}
		return NewLLMClient(log, ProviderOpenAI, model), nil
	case ProviderOllama:
		var opts []ollama.Option
		if c.OllamaURL != "" {
			opts = append(opts, ollama.WithServerURL(c.OllamaURL))
		}
		if c.DefaultModel != "" {
			opts = append(opts, ollama.WithModel(c.DefaultModel))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create Ollama model: %w", err)
		}
		return NewLLMClient(log, ProviderOllama, model), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", c.Provider)
	}
}
