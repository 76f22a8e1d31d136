package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/redactor/internal/llm"
	"github.com/kalambet/redactor/internal/ollama"
	"github.com/kalambet/redactor/internal/pipeline"
	"github.com/kalambet/redactor/internal/proxy"
	"github.com/kalambet/redactor/internal/reference"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/storage"
)

const testToken = "test-token-12345"

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type stubProvider struct {
	resp llm.Response
	err  error
}

func (p *stubProvider) Name() string  { return llm.OpenAI }
func (p *stubProvider) Model() string { return "gpt-4o-mini" }
func (p *stubProvider) Invoke(context.Context, []llm.Message) (llm.Response, error) {
	return p.resp, p.err
}

type staticCompany string

func (c staticCompany) Context() string { return string(c) }

type testEnv struct {
	handler  http.Handler
	deps     Deps
	clock    *testClock
	provider *stubProvider
	ledger   *storage.Store
	refs     *reference.Store
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		clock:    &testClock{now: time.Date(2024, 9, 12, 16, 0, 0, 0, time.UTC)},
		provider: &stubProvider{resp: llm.Response{Content: "Estimados clientes, gracias.", TokensUsed: 40, Cost: 0.002}},
	}

	res, err := results.OpenWithClock(dir, env.clock)
	if err != nil {
		t.Fatalf("results.OpenWithClock: %v", err)
	}
	env.refs, err = reference.Open(dir)
	if err != nil {
		t.Fatalf("reference.Open: %v", err)
	}
	env.ledger, err = storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { env.ledger.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := pipeline.NewRunner(pipeline.Deps{
		Results:    res,
		References: env.refs,
		Ledger:     env.ledger,
		Factory: func(opts llm.Options) (llm.Provider, error) {
			if opts.Provider == "broken" {
				return nil, &llm.ConfigError{Provider: "broken", Reason: "unknown provider"}
			}
			return env.provider, nil
		},
		Logger: logger,
	}, pipeline.Defaults{})

	env.deps = Deps{
		Runner:     runner,
		References: env.refs,
		Usage:      env.ledger,
		Company:    staticCompany("EMPRESA: Acme"),
		Token:      token,
		Logger:     logger,
	}
	env.handler = NewHandler(env.deps)
	return env
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (env *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type, body.Error.Message
}

func (env *testEnv) generate(t *testing.T) ActionResponse {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/actions/generate", `{"input":"Aviso de vacaciones","max_words":120}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("generate status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp ActionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding action response: %v", err)
	}
	env.clock.now = env.clock.now.Add(time.Second)
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testToken)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestRequestIDPreserved(t *testing.T) {
	env := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, testToken)

	for _, tok := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, authReq(http.MethodGet, "/months", "", tok))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", tok, rr.Code)
		}
		if got := rr.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
			t.Errorf("token %q: WWW-Authenticate = %q", tok, got)
		}
	}
	if rr := env.do(t, http.MethodGet, "/months", ""); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d", rr.Code)
	}
}

func TestNoTokenNoAuth(t *testing.T) {
	env := newTestEnv(t, "")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/months", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAction_Generate(t *testing.T) {
	env := newTestEnv(t, testToken)
	resp := env.generate(t)

	if resp.ID != "2024-09-12T16-00-00" {
		t.Errorf("ID = %q", resp.ID)
	}
	if resp.Failed || resp.Text != "Estimados clientes, gracias." {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Words != 3 || resp.TokensUsed != 40 || resp.Cost != 0.002 {
		t.Errorf("counters = %+v", resp)
	}
	if resp.Action != "generar" {
		t.Errorf("Action = %q", resp.Action)
	}
}

func TestAction_ProviderFailureIsNot5xx(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.provider.err = &proxy.StatusError{Status: 429, Body: "slow down"}

	rr := env.do(t, http.MethodPost, "/actions/summarize", `{"input":"texto"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp ActionResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Failed || resp.ID != "" || !strings.HasPrefix(resp.Text, "Error: ") {
		t.Errorf("resp = %+v", resp)
	}
	if resp.TokensUsed != 0 || resp.Cost != 0 {
		t.Errorf("counters = %+v", resp)
	}
}

func TestAction_Errors(t *testing.T) {
	env := newTestEnv(t, testToken)
	tests := []struct {
		path, body, wantType string
	}{
		{"/actions/translate", `{"input":"x"}`, "invalid_request_error"},
		{"/actions/generate", `{"input":""}`, "invalid_request_error"},
		{"/actions/generate", `not json`, "invalid_request_error"},
		{"/actions/generate", `{"input":"x","provider":"broken"}`, "config_error"},
	}
	for _, tt := range tests {
		rr := env.do(t, http.MethodPost, tt.path, tt.body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400", tt.path, tt.body, rr.Code)
			continue
		}
		if typ, _ := decodeError(t, rr); typ != tt.wantType {
			t.Errorf("%s %s: type = %q, want %q", tt.path, tt.body, typ, tt.wantType)
		}
	}
}

func TestResults_ListGetDelete(t *testing.T) {
	env := newTestEnv(t, testToken)
	first := env.generate(t)
	second := env.generate(t)

	rr := env.do(t, http.MethodGet, "/results", "")
	var recs []results.Record
	json.NewDecoder(rr.Body).Decode(&recs)
	if len(recs) != 2 || recs[0].ID != second.ID || recs[1].ID != first.ID {
		t.Fatalf("list = %+v", recs)
	}

	rr = env.do(t, http.MethodGet, "/results/"+first.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/results/"+first.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr = env.do(t, http.MethodGet, "/results/"+first.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rr.Code)
	}
	if rr = env.do(t, http.MethodDelete, "/results/"+first.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rr.Code)
	}
}

func TestResults_BadQuery(t *testing.T) {
	env := newTestEnv(t, testToken)
	for _, url := range []string{"/results?collection=trash", "/results?month=2024-13", "/stats?month=junio"} {
		if rr := env.do(t, http.MethodGet, url, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rr.Code)
		}
	}
}

func TestFeedback_RejectMovesToRejected(t *testing.T) {
	env := newTestEnv(t, testToken)
	resp := env.generate(t)

	rr := env.do(t, http.MethodPost, "/results/"+resp.ID+"/feedback", `{"approved":false,"comment":"muy largo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "rejected" {
		t.Errorf("body = %v", body)
	}

	var active, rejected []results.Record
	json.NewDecoder(env.do(t, http.MethodGet, "/results?collection=active", "").Body).Decode(&active)
	json.NewDecoder(env.do(t, http.MethodGet, "/results?collection=rejected", "").Body).Decode(&rejected)
	if len(active) != 0 || len(rejected) != 1 {
		t.Errorf("active=%d rejected=%d", len(active), len(rejected))
	}

	var stats results.Stats
	json.NewDecoder(env.do(t, http.MethodGet, "/stats", "").Body).Decode(&stats)
	if stats.Total != 1 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFeedback_Errors(t *testing.T) {
	env := newTestEnv(t, testToken)
	if rr := env.do(t, http.MethodPost, "/results/2024-09-12T16-00-00/feedback", `{"comment":"x"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing approved: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/results/2024-09-12T16-00-00/feedback", `{"approved":true}`); rr.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", rr.Code)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, testToken)
	resp := env.generate(t)

	rr := env.do(t, http.MethodGet, "/results/"+resp.ID+"/export?format=MD", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("Content-Type = %q", ct)
	}
	cd := rr.Header().Get("Content-Disposition")
	if !strings.Contains(cd, `filename="generar_2024-09-12T16-00-00.md"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(rr.Body.String(), "Estimados clientes") {
		t.Errorf("body = %q", rr.Body.String())
	}

	if rr := env.do(t, http.MethodGet, "/results/"+resp.ID+"/export?format=docx", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad format: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/results/2000-01-01T00-00-00/export", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing id: status = %d", rr.Code)
	}
}

func TestMonths(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.generate(t)

	var months []string
	json.NewDecoder(env.do(t, http.MethodGet, "/months", "").Body).Decode(&months)
	if len(months) != 1 || months[0] != "2024-09" {
		t.Errorf("months = %v", months)
	}
}

func TestReferences(t *testing.T) {
	env := newTestEnv(t, testToken)

	rr := env.do(t, http.MethodPost, "/references", `{"name":"carta modelo.txt","content":"Querido cliente"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var added map[string]string
	json.NewDecoder(rr.Body).Decode(&added)
	if added["name"] != "carta_modelo.txt" {
		t.Errorf("stored name = %q", added["name"])
	}

	b64 := base64.StdEncoding.EncodeToString([]byte(`{"texto":"Desde JSON"}`))
	if rr := env.do(t, http.MethodPost, "/references", `{"name":"ref.json","content_base64":"`+b64+`"}`); rr.Code != http.StatusCreated {
		t.Fatalf("add base64 status = %d", rr.Code)
	}

	var list []referenceSummary
	json.NewDecoder(env.do(t, http.MethodGet, "/references", "").Body).Decode(&list)
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	previews := list[0].Preview + "|" + list[1].Preview
	if !strings.Contains(previews, "Desde JSON") || !strings.Contains(previews, "Querido cliente") {
		t.Errorf("previews = %q", previews)
	}

	if rr := env.do(t, http.MethodDelete, "/references/carta_modelo.txt", ""); rr.Code != http.StatusOK {
		t.Errorf("delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/references/carta_modelo.txt", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rr.Code)
	}
}

func TestReferences_Invalid(t *testing.T) {
	env := newTestEnv(t, testToken)
	tests := []string{
		`{"content":"x"}`,
		`{"name":"a.txt"}`,
		`{"name":"a.exe","content":"x"}`,
		`{"name":"a.pdf","content_base64":"%%%"}`,
	}
	for _, body := range tests {
		if rr := env.do(t, http.MethodPost, "/references", body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t, testToken)
	env.generate(t)
	env.provider.err = &proxy.StatusError{Status: 500}
	env.do(t, http.MethodPost, "/actions/generate", `{"input":"x"}`)

	rr := env.do(t, http.MethodGet, "/usage?month=all", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var summaries []storage.UsageSummary
	json.NewDecoder(rr.Body).Decode(&summaries)
	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
	if summaries[0].Calls != 2 || summaries[0].Failures != 1 || summaries[0].Tokens != 40 {
		t.Errorf("summary = %+v", summaries[0])
	}

	if rr := env.do(t, http.MethodGet, "/usage?month=bad", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d", rr.Code)
	}
}

func TestUsageEntries(t *testing.T) {
	env := newTestEnv(t, testToken)
	saved := env.generate(t)
	env.provider.err = &proxy.StatusError{Status: 500}
	env.do(t, http.MethodPost, "/actions/generate", `{"input":"x"}`)

	rr := env.do(t, http.MethodGet, "/usage/entries?limit=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var entries []storage.UsageEntry
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if !entries[0].Failed || entries[0].ResultID != "" {
		t.Errorf("newest entry = %+v, want the failed call", entries[0])
	}
	if entries[1].ResultID != saved.ID || entries[1].TokensUsed != 40 {
		t.Errorf("oldest entry = %+v", entries[1])
	}

	rr = env.do(t, http.MethodGet, "/usage/entries?limit=1&offset=1", "")
	json.NewDecoder(rr.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].ResultID != saved.ID {
		t.Errorf("paged entries = %+v", entries)
	}

	rr = env.do(t, http.MethodGet, "/usage/entries/"+entries[0].ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var one storage.UsageEntry
	json.NewDecoder(rr.Body).Decode(&one)
	if one.ID != entries[0].ID || one.Provider != "openai" || one.Model != "gpt-4o-mini" {
		t.Errorf("entry = %+v", one)
	}

	if rr := env.do(t, http.MethodGet, "/usage/entries/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing entry status = %d", rr.Code)
	}
}

func TestCompany(t *testing.T) {
	env := newTestEnv(t, testToken)
	var body map[string]string
	json.NewDecoder(env.do(t, http.MethodGet, "/company", "").Body).Decode(&body)
	if body["context"] != "EMPRESA: Acme" {
		t.Errorf("body = %v", body)
	}
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t, testToken)
	rr := env.do(t, http.MethodPost, "/analyze", `{"text":"Hola mundo.  Adiós.\n\n\nFin."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	json.NewDecoder(rr.Body).Decode(&body)
	if body["palabras"] != float64(4) || body["parrafos"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if body["formatted"] != "Hola mundo. Adiós.\n\nFin." {
		t.Errorf("formatted = %q", body["formatted"])
	}
}

func TestProviders(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "g-env")
	env := newTestEnv(t, testToken)

	var list []ProviderInfo
	json.NewDecoder(env.do(t, http.MethodGet, "/providers", "").Body).Decode(&list)
	if len(list) != 5 {
		t.Fatalf("providers = %+v", list)
	}
	byName := map[string]ProviderInfo{}
	for _, p := range list {
		byName[p.Name] = p
	}
	if byName["openai"].HasKey {
		t.Error("openai reported a key")
	}
	if !byName["gemini"].HasKey {
		t.Error("gemini key from env not reported")
	}
	if !byName["ollama"].HasKey {
		t.Error("ollama needs no key")
	}
	if len(byName["openai"].Models) == 0 || byName["openai"].KeyEnv != "OPENAI_API_KEY" {
		t.Errorf("openai = %+v", byName["openai"])
	}
}

func TestProviders_Live(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	ollamaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"llama3.1:latest"},{"name":"mistral:7b"}]}`))
	}))
	t.Cleanup(ollamaSrv.Close)
	orSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer or-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"id":"openai/gpt-4o"},{"id":"anthropic/claude-3.5-sonnet"}]}`))
	}))
	t.Cleanup(orSrv.Close)

	env := newTestEnv(t, testToken)
	env.deps.Ollama = ollama.New(ollamaSrv.URL)
	env.deps.OpenRouterBaseURL = orSrv.URL
	env.deps.Keys = map[string]string{"openrouter": "or-key"}
	env.handler = NewHandler(env.deps)

	var list []ProviderInfo
	json.NewDecoder(env.do(t, http.MethodGet, "/providers?live=true", "").Body).Decode(&list)
	byName := map[string]ProviderInfo{}
	for _, p := range list {
		byName[p.Name] = p
	}
	if got := byName["ollama"].Models; len(got) != 2 || got[0] != "llama3.1:latest" {
		t.Errorf("ollama models = %v (err %q)", got, byName["ollama"].Error)
	}
	if got := byName["openrouter"].Models; len(got) != 2 || got[1] != "anthropic/claude-3.5-sonnet" {
		t.Errorf("openrouter models = %v (err %q)", got, byName["openrouter"].Error)
	}
	if !byName["openrouter"].HasKey {
		t.Error("fallback key not reported")
	}
}
