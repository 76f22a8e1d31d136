// Package llm adapts hosted and local chat-completion backends to one
// request/response shape.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Provider names.
const (
	OpenAI     = "openai"
	Gemini     = "gemini"
	Anthropic  = "anthropic"
	OpenRouter = "openrouter"
	Ollama     = "ollama"
)

const (
	defaultMaxTokens   = 2048
	defaultTemperature = 0.7
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System and User build the two message kinds every prompt uses.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Response is a completed invocation. Content is usually a string but some
// backends hand back a list of parts; callers normalize it.
type Response struct {
	Content    any
	TokensUsed int
	Cost       float64
}

// Provider invokes one configured model.
type Provider interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, messages []Message) (Response, error)
}

// Options select and configure a provider.
type Options struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int

	// APIKey is used when the provider's environment variable is unset.
	APIKey string
	// BaseURL overrides the provider endpoint.
	BaseURL    string
	HTTPClient *http.Client
}

// ConfigError reports a provider that cannot be constructed. It is never
// worth retrying.
type ConfigError struct {
	Provider string
	EnvVar   string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.EnvVar != "" {
		return fmt.Sprintf("provider %s: %s (set %s)", e.Provider, e.Reason, e.EnvVar)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

type providerInfo struct {
	envVar       string
	defaultModel string
	models       []string
}

var registry = map[string]providerInfo{
	OpenAI: {
		envVar:       "OPENAI_API_KEY",
		defaultModel: "gpt-4o-mini",
		models:       []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"},
	},
	Gemini: {
		envVar:       "GOOGLE_API_KEY",
		defaultModel: "gemini-1.5-flash",
		models:       []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-pro"},
	},
	Anthropic: {
		envVar:       "ANTHROPIC_API_KEY",
		defaultModel: "claude-3-5-sonnet-latest",
		models:       []string{"claude-3-5-sonnet-latest", "claude-3-5-haiku-latest", "claude-3-haiku-20240307"},
	},
	OpenRouter: {
		envVar:       "OPENROUTER_API_KEY",
		defaultModel: "openai/gpt-4o-mini",
	},
	Ollama: {
		defaultModel: "llama3.1",
	},
}

var providerOrder = []string{OpenAI, Gemini, Anthropic, OpenRouter, Ollama}

// Providers lists the known provider names.
func Providers() []string {
	out := make([]string, len(providerOrder))
	copy(out, providerOrder)
	return out
}

// Models returns the suggested models for a provider. OpenRouter and Ollama
// accept any model id, so their lists are empty.
func Models(provider string) []string {
	info, ok := registry[normalizeName(provider)]
	if !ok {
		return nil
	}
	out := make([]string, len(info.models))
	copy(out, info.models)
	return out
}

// DefaultModel returns the model used when none is given.
func DefaultModel(provider string) string {
	return registry[normalizeName(provider)].defaultModel
}

// KeyEnv returns the environment variable holding the provider's API key,
// or "" for providers that need none.
func KeyEnv(provider string) string {
	return registry[normalizeName(provider)].envVar
}

// HasKey reports whether a key is available for the provider, either from
// the environment or from fallback.
func HasKey(provider, fallback string) bool {
	env := KeyEnv(provider)
	if env == "" {
		return true
	}
	return os.Getenv(env) != "" || fallback != ""
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "claude" {
		return Anthropic
	}
	return name
}

// New constructs the provider named in opts. Keys are read from the
// environment here and nowhere else.
func New(opts Options) (Provider, error) {
	name := normalizeName(opts.Provider)
	info, ok := registry[name]
	if !ok {
		return nil, &ConfigError{Provider: opts.Provider, Reason: "unknown provider"}
	}

	key := ""
	if info.envVar != "" {
		key = os.Getenv(info.envVar)
		if key == "" {
			key = opts.APIKey
		}
		if key == "" {
			return nil, &ConfigError{Provider: name, EnvVar: info.envVar, Reason: "missing API key"}
		}
	}

	if opts.Model == "" {
		opts.Model = info.defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature < 0 || opts.Temperature > 2 {
		return nil, &ConfigError{Provider: name, Reason: fmt.Sprintf("temperature %.2f out of range [0, 2]", opts.Temperature)}
	}

	switch name {
	case OpenAI:
		return newOpenAI(key, opts), nil
	case Gemini:
		return newGemini(key, opts), nil
	case Anthropic:
		return newAnthropic(key, opts), nil
	case OpenRouter:
		return newOpenRouter(key, opts), nil
	default:
		return newOllama(opts), nil
	}
}
