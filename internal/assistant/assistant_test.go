package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/redactor/internal/llm"
	"github.com/kalambet/redactor/internal/proxy"
)

type stubProvider struct {
	name  string
	model string
	resp  llm.Response
	err   error
	panic any

	mu   sync.Mutex
	seen [][]llm.Message
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Model() string { return s.model }

func (s *stubProvider) Invoke(_ context.Context, msgs []llm.Message) (llm.Response, error) {
	s.mu.Lock()
	s.seen = append(s.seen, msgs)
	s.mu.Unlock()
	if s.panic != nil {
		panic(s.panic)
	}
	return s.resp, s.err
}

func (s *stubProvider) lastUser(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		t.Fatal("provider was never invoked")
	}
	msgs := s.seen[len(s.seen)-1]
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("unexpected message layout: %+v", msgs)
	}
	return msgs[1].Content
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAssistant(p *stubProvider, opts ...Option) *Assistant {
	return New(p, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestGenerate_Success(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "gpt-4o-mini", resp: llm.Response{
		Content:    "Texto generado.",
		TokensUsed: 120,
		Cost:       0.0003,
	}}
	a := newTestAssistant(p)

	res := a.Generate(context.Background(), "Lanzamiento de producto", 300, "")
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if res.Text != "Texto generado." || res.TokensUsed != 120 || res.Cost != 0.0003 {
		t.Errorf("got %+v", res)
	}

	user := p.lastUser(t)
	if !strings.Contains(user, "TEMA: Lanzamiento de producto") {
		t.Errorf("topic missing from prompt:\n%s", user)
	}
	if !strings.Contains(user, "aproximadamente 300 palabras") {
		t.Errorf("word target missing from prompt:\n%s", user)
	}
	if strings.Contains(user, "CONTEXTO DE LA EMPRESA") {
		t.Error("company block rendered without a context source")
	}
}

func TestFailureNeverRaises(t *testing.T) {
	p := &stubProvider{name: llm.OpenRouter, model: "openai/gpt-4o-mini", err: errors.New("boom")}
	a := newTestAssistant(p)

	for name, res := range map[string]Result{
		"generate":  a.Generate(context.Background(), "tema", 100, ""),
		"correct":   a.Correct(context.Background(), "texto", ""),
		"summarize": a.Summarize(context.Background(), "texto", 50, ""),
	} {
		t.Run(name, func(t *testing.T) {
			if !res.Failed() {
				t.Fatal("expected failure")
			}
			if !strings.HasPrefix(res.Text, "Error: boom") {
				t.Errorf("Text = %q", res.Text)
			}
			if res.TokensUsed != 0 || res.Cost != 0 {
				t.Errorf("counters = %d, %v; want zero", res.TokensUsed, res.Cost)
			}
		})
	}
}

func TestFailureHints(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		err      error
		want     string
	}{
		{"auth", llm.OpenRouter, "x/y", &proxy.StatusError{Status: 401, Body: "no key"}, "OPENROUTER_API_KEY"},
		{"rate limit", llm.OpenRouter, "x/y", &proxy.StatusError{Status: 429}, "límite de uso"},
		{"model missing ollama", llm.Ollama, "llama3.1", errors.New(`model "llama3.1" not found`), "ollama pull llama3.1"},
		{"model missing remote", llm.Gemini, "gemini-x", &llm.HTTPError{Provider: llm.Gemini, Status: 404}, "no está disponible en gemini"},
		{"timeout", llm.OpenAI, "gpt-4o", context.DeadlineExceeded, "tardó demasiado"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssistant(&stubProvider{name: tt.provider, model: tt.model, err: tt.err})
			res := a.Correct(context.Background(), "texto", "")
			if !strings.HasPrefix(res.Text, "Error: ") {
				t.Errorf("Text = %q", res.Text)
			}
			if !strings.Contains(res.Text, tt.want) {
				t.Errorf("Text = %q, want hint containing %q", res.Text, tt.want)
			}
		})
	}
}

func TestUnknownFailureHasNoHint(t *testing.T) {
	a := newTestAssistant(&stubProvider{name: llm.OpenAI, model: "m", err: errors.New("weird")})
	res := a.Generate(context.Background(), "t", 10, "")
	if res.Text != "Error: weird" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestProviderPanicIsRecovered(t *testing.T) {
	a := newTestAssistant(&stubProvider{name: llm.OpenAI, model: "m", panic: "nil map"})
	res := a.Summarize(context.Background(), "texto", 20, "")
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Text, "Error: provider panic: nil map") {
		t.Errorf("Text = %q", res.Text)
	}
	if res.TokensUsed != 0 || res.Cost != 0 {
		t.Errorf("counters not zeroed: %+v", res)
	}
}

func TestExemplarsCappedAtThree(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "m", resp: llm.Response{Content: "ok"}}
	a := newTestAssistant(p)
	a.SetReferenceTexts([]string{"uno", "  ", "dos", "tres", "cuatro"})

	a.Generate(context.Background(), "tema", 100, "")
	user := p.lastUser(t)

	if !strings.Contains(user, "--- Textos de Referencia (estilo deseado) ---") {
		t.Fatalf("exemplar header missing:\n%s", user)
	}
	for i, want := range []string{"Ejemplo 1:\nuno", "Ejemplo 2:\ndos", "Ejemplo 3:\ntres"} {
		if !strings.Contains(user, want) {
			t.Errorf("exemplar %d missing: %q", i+1, want)
		}
	}
	if strings.Contains(user, "cuatro") || strings.Contains(user, "Ejemplo 4") {
		t.Error("more than three exemplars rendered")
	}
}

func TestNoExemplarsNoHeader(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "m", resp: llm.Response{Content: "ok"}}
	a := newTestAssistant(p)
	a.Correct(context.Background(), "hola", "")
	if strings.Contains(p.lastUser(t), "Textos de Referencia") {
		t.Error("exemplar header rendered with no references")
	}
}

func TestSectionOrder(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "m", resp: llm.Response{Content: "ok"}}
	calls := 0
	a := newTestAssistant(p, WithCompanyContext(func() string {
		calls++
		return "EMPRESA: Acme"
	}))
	a.SetReferenceTexts([]string{"ejemplo previo"})

	a.Summarize(context.Background(), "texto largo", 80, "Usa viñetas")
	user := p.lastUser(t)

	order := []string{
		"TEXTO ORIGINAL:\ntexto largo",
		"aproximadamente 80 palabras",
		"CONTEXTO DE LA EMPRESA:\nEMPRESA: Acme",
		"Ejemplo 1:\nejemplo previo",
		"INSTRUCCIONES ADICIONALES:\nUsa viñetas",
		"Por favor, proporciona el resumen:",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(user, marker)
		if idx < 0 {
			t.Fatalf("missing %q in:\n%s", marker, user)
		}
		if idx < last {
			t.Errorf("%q out of order", marker)
		}
		last = idx
	}
	if calls != 1 {
		t.Errorf("company source called %d times, want 1", calls)
	}
}

func TestCompanyContextReadPerCall(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "m", resp: llm.Response{Content: "ok"}}
	current := "v1"
	a := newTestAssistant(p, WithCompanyContext(func() string { return current }))

	a.Correct(context.Background(), "x", "")
	if !strings.Contains(p.lastUser(t), "CONTEXTO DE LA EMPRESA:\nv1") {
		t.Fatal("first context missing")
	}
	current = "v2"
	a.Correct(context.Background(), "x", "")
	if !strings.Contains(p.lastUser(t), "CONTEXTO DE LA EMPRESA:\nv2") {
		t.Error("context change not picked up")
	}
}

func TestCompanyContextPanicIsIgnored(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "m", resp: llm.Response{Content: "ok"}}
	a := newTestAssistant(p, WithCompanyContext(func() string { panic("bad profile") }))

	res := a.Generate(context.Background(), "tema", 10, "")
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if strings.Contains(p.lastUser(t), "CONTEXTO DE LA EMPRESA") {
		t.Error("company block rendered after a panicking source")
	}
}

func TestSystemPromptPerTask(t *testing.T) {
	a := newTestAssistant(&stubProvider{name: llm.OpenAI, model: "m"})
	for task, want := range map[Task]string{
		TaskGenerate:  "redacción profesional",
		TaskCorrect:   "editor experto",
		TaskSummarize: "resúmenes profesionales",
	} {
		msgs := a.Messages(task, "x", 10, "")
		if !strings.Contains(msgs[0].Content, want) {
			t.Errorf("%s system prompt = %q", task, msgs[0].Content)
		}
	}
}

func TestReferenceTextsCopied(t *testing.T) {
	a := newTestAssistant(&stubProvider{})
	in := []string{"a", "b"}
	a.SetReferenceTexts(in)
	in[0] = "changed"

	got := a.ReferenceTexts()
	if got[0] != "a" {
		t.Errorf("SetReferenceTexts kept caller slice: %v", got)
	}
	got[1] = "changed"
	if a.ReferenceTexts()[1] != "b" {
		t.Error("ReferenceTexts returned internal slice")
	}
}

func TestSetReferenceTextsConcurrent(t *testing.T) {
	p := &stubProvider{name: llm.OpenAI, model: "m", resp: llm.Response{Content: "ok"}}
	a := newTestAssistant(p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			a.SetReferenceTexts([]string{fmt.Sprintf("ref %d", i)})
		}(i)
		go func() {
			defer wg.Done()
			a.Correct(context.Background(), "x", "")
		}()
	}
	wg.Wait()
}

type stringer struct{}

func (stringer) String() string { return "from stringer" }

type contentHolder struct{ v any }

func (c contentHolder) Content() any { return c.v }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hola", "hola"},
		{"bytes", []byte("hola"), "hola"},
		{"string parts", []string{"Hola ", "mundo"}, "Hola mundo"},
		{"text parts", []any{map[string]any{"type": "text", "text": "Hola "}, "mundo"}, "Hola mundo"},
		{"content key", map[string]any{"content": "dentro"}, "dentro"},
		{"non-text part", []any{map[string]any{"type": "image"}, "texto"}, "texto"},
		{"plain map", map[string]any{"a": 1}, `{"a":1}`},
		{"content method", contentHolder{v: []any{"a", "b"}}, "ab"},
		{"stringer", stringer{}, "from stringer"},
		{"fallback", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeStructuredResponse(t *testing.T) {
	p := &stubProvider{name: llm.Gemini, model: "gemini-1.5-flash", resp: llm.Response{
		Content: []any{map[string]any{"text": "Parte uno. "}, map[string]any{"text": "Parte dos."}},
	}}
	res := newTestAssistant(p).Generate(context.Background(), "t", 10, "")
	if res.Text != "Parte uno. Parte dos." {
		t.Errorf("Text = %q", res.Text)
	}
}
