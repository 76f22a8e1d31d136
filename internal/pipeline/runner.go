package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/redactor/internal/assistant"
	"github.com/kalambet/redactor/internal/llm"
	"github.com/kalambet/redactor/internal/reference"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/storage"
	"github.com/kalambet/redactor/internal/textstats"
)

// ErrInvalidRequest is wrapped by every validation failure in Run.
var ErrInvalidRequest = errors.New("invalid request")

const (
	defaultGenerateWords  = 200
	defaultSummarizeWords = 100
	approvedExemplars     = 5
	topicRunes            = 100
)

// Ledger records provider usage. *storage.Store satisfies it.
type Ledger interface {
	RecordUsage(e storage.UsageEntry) (storage.UsageEntry, error)
	DeleteUsageForResult(resultID string) error
}

// Factory builds a provider. llm.New is the default.
type Factory func(opts llm.Options) (llm.Provider, error)

// Defaults fill in whatever a Request leaves empty.
type Defaults struct {
	Provider       string
	Model          string
	Temperature    float64
	MaxWords       int
	RequestTimeout time.Duration
	OllamaURL      string
	// APIKeys are fallbacks by provider name for when the environment
	// variable is unset.
	APIKeys map[string]string
}

// Deps wires the Runner to its stores. Only Results is required.
type Deps struct {
	Results    *results.Store
	References *reference.Store
	Ledger     Ledger
	Company    func() string
	Factory    Factory
	Logger     *slog.Logger
}

// Request is one generate, correct or summarize call. Action accepts the
// stored Spanish names and their English aliases.
type Request struct {
	Action       string   `json:"action"`
	Input        string   `json:"input"`
	MaxWords     int      `json:"max_words,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// Outcome is what Run produced. ID is empty when the invocation failed.
type Outcome struct {
	ID       string
	Action   results.Action
	Result   assistant.Result
	Words    int
	Provider string
	Model    string
}

// Runner runs one action end to end: exemplars, dispatch, save, usage.
type Runner struct {
	results  *results.Store
	refs     *reference.Store
	ledger   Ledger
	company  func() string
	factory  Factory
	logger   *slog.Logger
	defaults Defaults
}

// NewRunner creates a Runner. A zero Defaults.Provider falls back to openai.
func NewRunner(deps Deps, defaults Defaults) *Runner {
	if deps.Factory == nil {
		deps.Factory = llm.New
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if defaults.Provider == "" {
		defaults.Provider = llm.OpenAI
	}
	return &Runner{
		results:  deps.Results,
		refs:     deps.References,
		ledger:   deps.Ledger,
		company:  deps.Company,
		factory:  deps.Factory,
		logger:   deps.Logger,
		defaults: defaults,
	}
}

// Results exposes the result store the Runner writes to.
func (r *Runner) Results() *results.Store { return r.results }

// Run validates req, invokes the provider and saves a successful result.
// Provider failures are not errors: they come back in Outcome.Result. The
// returned error covers validation, provider construction and storage.
func (r *Runner) Run(ctx context.Context, req Request) (Outcome, error) {
	action, err := results.ParseAction(req.Action)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Input) == "" {
		return Outcome{}, fmt.Errorf("%w: input is empty", ErrInvalidRequest)
	}
	if req.MaxWords < 0 {
		return Outcome{}, fmt.Errorf("%w: max_words must be positive", ErrInvalidRequest)
	}

	opts := r.options(req)
	provider, err := r.factory(opts)
	if err != nil {
		return Outcome{}, fmt.Errorf("building provider: %w", err)
	}

	a := assistant.New(provider,
		assistant.WithCompanyContext(r.company),
		assistant.WithLogger(r.logger),
	)
	a.SetReferenceTexts(r.exemplars(ctx))

	maxWords := r.maxWords(action, req.MaxWords)
	var res assistant.Result
	switch action {
	case results.ActionGenerate:
		res = a.Generate(ctx, req.Input, maxWords, req.Instructions)
	case results.ActionCorrect:
		res = a.Correct(ctx, req.Input, req.Instructions)
	case results.ActionSummarize:
		res = a.Summarize(ctx, req.Input, maxWords, req.Instructions)
	}

	out := Outcome{
		Action:   action,
		Result:   res,
		Provider: provider.Name(),
		Model:    provider.Model(),
	}
	if res.Failed() {
		r.recordUsage(out)
		return out, nil
	}

	out.Words = textstats.Words(res.Text)
	id, err := r.results.Save(results.Record{
		Action: action,
		Topic:  topicFor(action, req.Input),
		Output: res.Text,
		Words:  out.Words,
		Model:  out.Provider + "/" + out.Model,
		Config: configSnapshot(action, out.Provider, opts.Temperature, maxWords, req.Instructions),
	})
	if err != nil {
		r.recordUsage(out)
		return out, fmt.Errorf("saving result: %w", err)
	}
	out.ID = id
	r.recordUsage(out)

	r.logger.Info("action complete",
		"id", id,
		"action", string(action),
		"provider", out.Provider,
		"model", out.Model,
		"words", out.Words,
		"tokens", res.TokensUsed,
	)
	return out, nil
}

// Feedback registers an approve or reject decision on a saved result.
func (r *Runner) Feedback(id string, approved bool, comment string) (bool, error) {
	return r.results.RegisterFeedback(id, approved, comment)
}

// Delete removes a result and its usage entries. Missing usage rows are
// not an error.
func (r *Runner) Delete(id string) (bool, error) {
	found, err := r.results.Delete(id)
	if err != nil || !found {
		return found, err
	}
	if r.ledger != nil {
		if err := r.ledger.DeleteUsageForResult(id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("deleting usage entries failed", "id", id, "error", err)
		}
	}
	return true, nil
}

func (r *Runner) options(req Request) llm.Options {
	name := req.Provider
	if name == "" {
		name = r.defaults.Provider
	}
	model := req.Model
	if model == "" && strings.EqualFold(name, r.defaults.Provider) {
		model = r.defaults.Model
	}
	temp := r.defaults.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	opts := llm.Options{
		Provider:    name,
		Model:       model,
		Temperature: temp,
		APIKey:      r.defaults.APIKeys[strings.ToLower(name)],
	}
	if strings.EqualFold(name, llm.Ollama) {
		opts.BaseURL = r.defaults.OllamaURL
	}
	if r.defaults.RequestTimeout > 0 {
		opts.HTTPClient = &http.Client{Timeout: r.defaults.RequestTimeout}
	}
	return opts
}

func (r *Runner) maxWords(action results.Action, requested int) int {
	if action == results.ActionCorrect {
		return 0
	}
	if requested > 0 {
		return requested
	}
	if r.defaults.MaxWords > 0 {
		return r.defaults.MaxWords
	}
	if action == results.ActionSummarize {
		return defaultSummarizeWords
	}
	return defaultGenerateWords
}

// exemplars merges uploaded references with recently approved outputs,
// dropping duplicates and keeping the first occurrence.
func (r *Runner) exemplars(ctx context.Context) []string {
	var texts []string
	if r.refs != nil {
		refs, err := r.refs.LoadAll(ctx)
		if err != nil {
			r.logger.Warn("loading reference texts failed", "error", err)
		}
		texts = append(texts, refs...)
	}
	texts = append(texts, r.results.ApprovedTexts(approvedExemplars)...)

	seen := make(map[string]struct{}, len(texts))
	out := texts[:0]
	for _, t := range texts {
		key := strings.TrimSpace(t)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (r *Runner) recordUsage(out Outcome) {
	if r.ledger == nil {
		return
	}
	e := storage.UsageEntry{
		ResultID:   out.ID,
		Action:     string(out.Action),
		Provider:   out.Provider,
		Model:      out.Model,
		TokensUsed: out.Result.TokensUsed,
		Cost:       out.Result.Cost,
		Failed:     out.Result.Failed(),
	}
	if out.Result.Err != nil {
		e.Error = out.Result.Err.Error()
	}
	if _, err := r.ledger.RecordUsage(e); err != nil {
		r.logger.Warn("recording usage failed", "action", e.Action, "error", err)
	}
}

// topicFor returns the stored topic: the topic itself for generate, else
// the first 100 characters of the source text.
func topicFor(action results.Action, input string) string {
	if action == results.ActionGenerate {
		return input
	}
	if utf8.RuneCountInString(input) <= topicRunes {
		return input
	}
	return string([]rune(input)[:topicRunes]) + "..."
}

func configSnapshot(action results.Action, provider string, temperature float64, maxWords int, instructions string) map[string]any {
	cfg := map[string]any{
		"provider":    provider,
		"temperature": temperature,
	}
	switch action {
	case results.ActionGenerate:
		cfg["max_palabras"] = maxWords
	case results.ActionCorrect:
		cfg["instrucciones"] = instructions
	case results.ActionSummarize:
		cfg["max_palabras"] = maxWords
		cfg["instrucciones"] = instructions
	}
	return cfg
}
