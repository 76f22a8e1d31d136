// Package assistant builds business-text prompts and runs them against an
// llm.Provider, folding failures into the result instead of returning them.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/redactor/internal/llm"
)

// Result is the outcome of one action. When Err is set, Text holds a
// readable error message and the counters are zero.
type Result struct {
	Text       string  `json:"text"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
	Err        error   `json:"-"`
}

// Failed reports whether the invocation failed.
func (r Result) Failed() bool { return r.Err != nil }

// Assistant runs generate, correct and summarize prompts on one provider.
type Assistant struct {
	provider llm.Provider
	company  func() string
	logger   *slog.Logger

	mu   sync.RWMutex
	refs []string
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithCompanyContext sets the source of the company block. It is called on
// every prompt so profile edits show up without a restart.
func WithCompanyContext(fn func() string) Option {
	return func(a *Assistant) { a.company = fn }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

// New returns an Assistant bound to provider.
func New(provider llm.Provider, opts ...Option) *Assistant {
	a := &Assistant{provider: provider, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Provider returns the backend the assistant invokes.
func (a *Assistant) Provider() llm.Provider { return a.provider }

// SetReferenceTexts replaces the style exemplars used by later prompts.
func (a *Assistant) SetReferenceTexts(texts []string) {
	cp := make([]string, len(texts))
	copy(cp, texts)
	a.mu.Lock()
	a.refs = cp
	a.mu.Unlock()
}

// ReferenceTexts returns a copy of the current exemplars.
func (a *Assistant) ReferenceTexts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cp := make([]string, len(a.refs))
	copy(cp, a.refs)
	return cp
}

// Generate writes a new text about topic of roughly maxWords words.
func (a *Assistant) Generate(ctx context.Context, topic string, maxWords int, extra string) Result {
	return a.run(ctx, TaskGenerate, topic, maxWords, extra)
}

// Correct proofreads and improves text.
func (a *Assistant) Correct(ctx context.Context, text, extra string) Result {
	return a.run(ctx, TaskCorrect, text, 0, extra)
}

// Summarize condenses text to roughly maxWords words.
func (a *Assistant) Summarize(ctx context.Context, text string, maxWords int, extra string) Result {
	return a.run(ctx, TaskSummarize, text, maxWords, extra)
}

// Messages renders the prompt for a task without invoking the provider.
func (a *Assistant) Messages(task Task, input string, maxWords int, extra string) []llm.Message {
	return buildMessages(promptInput{
		task:         task,
		input:        input,
		maxWords:     maxWords,
		instructions: extra,
		company:      a.companyContext(),
		exemplars:    a.ReferenceTexts(),
	})
}

func (a *Assistant) companyContext() (ctx string) {
	if a.company == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("company context source panicked", "panic", r)
			ctx = ""
		}
	}()
	return a.company()
}

func (a *Assistant) run(ctx context.Context, task Task, input string, maxWords int, extra string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = a.failure(task, fmt.Errorf("provider panic: %v", r))
		}
	}()

	msgs := a.Messages(task, input, maxWords, extra)
	resp, err := a.provider.Invoke(ctx, msgs)
	if err != nil {
		return a.failure(task, err)
	}

	a.logger.Debug("invocation complete",
		"task", task.String(),
		"provider", a.provider.Name(),
		"model", a.provider.Model(),
		"tokens", resp.TokensUsed,
	)
	return Result{
		Text:       Normalize(resp.Content),
		TokensUsed: resp.TokensUsed,
		Cost:       resp.Cost,
	}
}

func (a *Assistant) failure(task Task, err error) Result {
	kind := llm.Classify(err)
	a.logger.Warn("invocation failed",
		"task", task.String(),
		"provider", a.provider.Name(),
		"model", a.provider.Model(),
		"failure", kind.String(),
		"error", err,
	)
	return Result{
		Text: "Error: " + err.Error() + hint(kind, a.provider),
		Err:  err,
	}
}

func hint(kind llm.Failure, p llm.Provider) string {
	switch kind {
	case llm.FailureAuth:
		if env := llm.KeyEnv(p.Name()); env != "" {
			return fmt.Sprintf("\n\nSugerencia: verifica que la API key de %s sea válida (%s).", p.Name(), env)
		}
		return fmt.Sprintf("\n\nSugerencia: verifica las credenciales de %s.", p.Name())
	case llm.FailureRateLimit:
		return "\n\nSugerencia: se alcanzó el límite de uso o la cuota del proveedor; espera unos minutos o revisa tu plan."
	case llm.FailureModelNotFound:
		if strings.EqualFold(p.Name(), llm.Ollama) {
			return fmt.Sprintf("\n\nSugerencia: el modelo %s no está instalado; descárgalo con: ollama pull %s", p.Model(), p.Model())
		}
		return fmt.Sprintf("\n\nSugerencia: el modelo %s no está disponible en %s; elige otro modelo.", p.Model(), p.Name())
	case llm.FailureTimeout:
		return "\n\nSugerencia: la solicitud tardó demasiado; inténtalo de nuevo o reduce la longitud del texto."
	}
	return ""
}
