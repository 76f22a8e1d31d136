package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/redactor/internal/llm"
	"github.com/kalambet/redactor/internal/proxy"
	"github.com/kalambet/redactor/internal/reference"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type fakeProvider struct {
	name, model string
	resp        llm.Response
	err         error

	mu   sync.Mutex
	msgs []llm.Message
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Model() string { return p.model }

func (p *fakeProvider) Invoke(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	p.mu.Lock()
	p.msgs = msgs
	p.mu.Unlock()
	return p.resp, p.err
}

func (p *fakeProvider) userPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.msgs) < 2 {
		return ""
	}
	return p.msgs[1].Content
}

type harness struct {
	runner   *Runner
	results  *results.Store
	refs     *reference.Store
	ledger   *storage.Store
	clock    *fixedClock
	provider *fakeProvider
	lastOpts llm.Options
}

func newHarness(t *testing.T, defaults Defaults) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		clock: &fixedClock{now: time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC)},
		provider: &fakeProvider{name: llm.OpenAI, model: "gpt-4o-mini", resp: llm.Response{
			Content:    "Texto final de prueba.",
			TokensUsed: 90,
			Cost:       0.001,
		}},
	}

	var err error
	h.results, err = results.OpenWithClock(dir, h.clock)
	if err != nil {
		t.Fatalf("results.OpenWithClock: %v", err)
	}
	h.refs, err = reference.Open(dir)
	if err != nil {
		t.Fatalf("reference.Open: %v", err)
	}
	h.ledger, err = storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { h.ledger.Close() })

	h.runner = NewRunner(Deps{
		Results:    h.results,
		References: h.refs,
		Ledger:     h.ledger,
		Company:    func() string { return "EMPRESA: Acme" },
		Factory: func(opts llm.Options) (llm.Provider, error) {
			h.lastOpts = opts
			return h.provider, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, defaults)
	return h
}

func TestRun_GenerateSavesRecord(t *testing.T) {
	h := newHarness(t, Defaults{Provider: llm.OpenAI, Model: "gpt-4o-mini", Temperature: 0.7})

	out, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "Nuevo horario"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ID != "2024-06-03T09-15-00" {
		t.Errorf("ID = %q", out.ID)
	}
	if out.Words != 4 {
		t.Errorf("Words = %d, want 4", out.Words)
	}

	rec, ok := h.results.Get(out.ID)
	if !ok {
		t.Fatal("record not saved")
	}
	if rec.Action != results.ActionGenerate || rec.Topic != "Nuevo horario" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Model != "openai/gpt-4o-mini" {
		t.Errorf("Model = %q", rec.Model)
	}
	if rec.Config["max_palabras"] != float64(200) {
		t.Errorf("max_palabras = %v (%T), want 200", rec.Config["max_palabras"], rec.Config["max_palabras"])
	}
	if rec.Config["temperature"] != 0.7 || rec.Config["provider"] != "openai" {
		t.Errorf("config = %v", rec.Config)
	}
	if _, ok := rec.Config["instrucciones"]; ok {
		t.Error("generate snapshot should not carry instructions")
	}

	if !strings.Contains(h.provider.userPrompt(), "CONTEXTO DE LA EMPRESA:\nEMPRESA: Acme") {
		t.Error("company context not passed to the prompt")
	}
}

func TestRun_TopicTruncatedForSourceText(t *testing.T) {
	h := newHarness(t, Defaults{})
	long := strings.Repeat("á", 150)

	out, err := h.runner.Run(context.Background(), Request{Action: "corregir", Input: long, Instructions: "más formal"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, _ := h.results.Get(out.ID)
	if rec.Topic != strings.Repeat("á", 100)+"..." {
		t.Errorf("Topic = %q", rec.Topic)
	}
	if rec.Config["instrucciones"] != "más formal" {
		t.Errorf("config = %v", rec.Config)
	}
	if _, ok := rec.Config["max_palabras"]; ok {
		t.Error("correct snapshot should not carry max_palabras")
	}

	h.clock.now = h.clock.now.Add(time.Second)
	short, err := h.runner.Run(context.Background(), Request{Action: "summarize", Input: "corto"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, _ = h.results.Get(short.ID)
	if rec.Topic != "corto" {
		t.Errorf("short Topic = %q", rec.Topic)
	}
	if rec.Config["max_palabras"] != float64(100) {
		t.Errorf("summarize default words = %v", rec.Config["max_palabras"])
	}
}

func TestRun_FailureNotSavedButRecorded(t *testing.T) {
	h := newHarness(t, Defaults{})
	h.provider.err = &proxy.StatusError{Status: 401, Body: "bad key"}

	out, err := h.runner.Run(context.Background(), Request{Action: "generar", Input: "tema"})
	if err != nil {
		t.Fatalf("Run returned error for a provider failure: %v", err)
	}
	if out.ID != "" {
		t.Errorf("ID = %q, want empty", out.ID)
	}
	if !out.Result.Failed() || !strings.HasPrefix(out.Result.Text, "Error: ") {
		t.Errorf("Result = %+v", out.Result)
	}
	if got := h.results.ListCombined(""); len(got) != 0 {
		t.Errorf("failed result was saved: %+v", got)
	}

	usage, err := h.ledger.ListUsage(10, 0)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(usage) != 1 || !usage[0].Failed || usage[0].ResultID != "" {
		t.Errorf("usage = %+v", usage)
	}
}

func TestRun_SuccessRecordsUsageWithResultID(t *testing.T) {
	h := newHarness(t, Defaults{})

	out, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "tema"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	usage, err := h.ledger.ListUsage(10, 0)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(usage) != 1 {
		t.Fatalf("usage entries = %d, want 1", len(usage))
	}
	u := usage[0]
	if u.ResultID != out.ID || u.TokensUsed != 90 || u.Cost != 0.001 || u.Action != "generar" {
		t.Errorf("usage = %+v", u)
	}
}

func TestRun_Validation(t *testing.T) {
	h := newHarness(t, Defaults{})
	tests := []Request{
		{Action: "translate", Input: "x"},
		{Action: "generate", Input: "   "},
		{Action: "summarize", Input: "x", MaxWords: -5},
	}
	for _, req := range tests {
		if _, err := h.runner.Run(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Run(%+v) error = %v, want ErrInvalidRequest", req, err)
		}
	}
}

func TestRun_ConfigErrorReturned(t *testing.T) {
	h := newHarness(t, Defaults{})
	h.runner.factory = func(opts llm.Options) (llm.Provider, error) {
		return nil, &llm.ConfigError{Provider: opts.Provider, EnvVar: "OPENAI_API_KEY", Reason: "missing API key"}
	}

	_, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "x"})
	var ce *llm.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *llm.ConfigError", err)
	}
}

func TestRun_OptionsResolution(t *testing.T) {
	h := newHarness(t, Defaults{
		Provider:       llm.Ollama,
		Model:          "llama3.1",
		Temperature:    0.3,
		OllamaURL:      "http://ollama:11434",
		RequestTimeout: 30 * time.Second,
		APIKeys:        map[string]string{"openai": "sk-fallback"},
	})

	if _, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "x"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	o := h.lastOpts
	if o.Provider != llm.Ollama || o.Model != "llama3.1" || o.Temperature != 0.3 || o.BaseURL != "http://ollama:11434" {
		t.Errorf("default opts = %+v", o)
	}
	if o.HTTPClient == nil || o.HTTPClient.Timeout != 30*time.Second {
		t.Error("request timeout not applied")
	}

	temp := 1.1
	h.clock.now = h.clock.now.Add(time.Second)
	if _, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "x", Provider: "OpenAI", Temperature: &temp}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	o = h.lastOpts
	if o.Model != "" {
		t.Errorf("default model leaked to another provider: %q", o.Model)
	}
	if o.APIKey != "sk-fallback" || o.Temperature != 1.1 || o.BaseURL != "" {
		t.Errorf("override opts = %+v", o)
	}
}

func TestRun_ExemplarsFromReferencesAndApproved(t *testing.T) {
	h := newHarness(t, Defaults{})
	if _, err := h.refs.Save("estilo.txt", []byte("Texto de estilo")); err != nil {
		t.Fatalf("Save reference: %v", err)
	}

	h.provider.resp.Content = "Texto de estilo"
	first, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "uno"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := h.runner.Feedback(first.ID, true, "bien"); err != nil {
		t.Fatalf("Feedback: %v", err)
	}

	h.clock.now = h.clock.now.Add(time.Second)
	h.provider.resp.Content = "otro"
	if _, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "dos"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	prompt := h.provider.userPrompt()
	if strings.Count(prompt, "Texto de estilo") != 1 {
		t.Errorf("duplicate exemplar not removed:\n%s", prompt)
	}
	if strings.Contains(prompt, "Ejemplo 2:") {
		t.Errorf("unexpected second exemplar:\n%s", prompt)
	}
}

func TestFeedbackRejectMovesRecord(t *testing.T) {
	h := newHarness(t, Defaults{})
	out, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found, err := h.runner.Feedback(out.ID, false, "no")
	if err != nil || !found {
		t.Fatalf("Feedback = %v, %v", found, err)
	}
	if len(h.results.ListActive("")) != 0 || len(h.results.ListRejected("")) != 1 {
		t.Error("rejected record not moved")
	}
	if found, _ := h.runner.Feedback("2000-01-01T00-00-00", true, ""); found {
		t.Error("feedback on unknown id reported found")
	}
}

func TestDeleteRemovesUsage(t *testing.T) {
	h := newHarness(t, Defaults{})
	out, err := h.runner.Run(context.Background(), Request{Action: "generate", Input: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found, err := h.runner.Delete(out.ID)
	if err != nil || !found {
		t.Fatalf("Delete = %v, %v", found, err)
	}
	if _, ok := h.results.Get(out.ID); ok {
		t.Error("record still present")
	}
	usage, _ := h.ledger.ListUsage(10, 0)
	if len(usage) != 0 {
		t.Errorf("usage not removed: %+v", usage)
	}

	found, err = h.runner.Delete(out.ID)
	if err != nil || found {
		t.Errorf("second Delete = %v, %v", found, err)
	}
}

func TestTopicFor(t *testing.T) {
	exact := strings.Repeat("x", 100)
	if got := topicFor(results.ActionSummarize, exact); got != exact {
		t.Errorf("100-char input truncated: %q", got)
	}
	long := strings.Repeat("y", 300)
	if got := topicFor(results.ActionGenerate, long); got != long {
		t.Error("generate topic must not be truncated")
	}
}
