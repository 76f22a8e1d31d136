package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiProvider struct {
	key     string
	baseURL string
	client  *http.Client
	opts    Options
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// HTTPError is a non-2xx answer from a REST backend.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Body)
}

func newGemini(key string, opts Options) *geminiProvider {
	base := opts.BaseURL
	if base == "" {
		base = geminiBaseURL
	}
	return &geminiProvider{
		key:     key,
		baseURL: strings.TrimRight(base, "/"),
		client:  httpClient(opts),
		opts:    opts,
	}
}

func (p *geminiProvider) Name() string  { return Gemini }
func (p *geminiProvider) Model() string { return p.opts.Model }

// convertMessages folds system messages into the first user turn; older
// Gemini models reject a separate system instruction.
func convertMessages(messages []Message) []geminiContent {
	var system []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		}
	}

	var out []geminiContent
	prefixed := false
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		text := m.Content
		if role == "user" && !prefixed && len(system) > 0 {
			text = strings.Join(system, "\n\n") + "\n\n" + text
			prefixed = true
		}
		out = append(out, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}
	if !prefixed && len(system) > 0 {
		out = append([]geminiContent{{Role: "user", Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}}, out...)
	}
	return out
}

func (p *geminiProvider) Invoke(ctx context.Context, messages []Message) (Response, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: convertMessages(messages),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.opts.Temperature,
			MaxOutputTokens: p.opts.MaxTokens,
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshaling gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, url.PathEscape(p.opts.Model), url.QueryEscape(p.key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// The URL carries the key; keep it out of the error text.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return Response{}, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Response{}, &HTTPError{Provider: Gemini, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Response{}, fmt.Errorf("decoding gemini response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return Response{}, errors.New("gemini returned no candidates")
	}

	parts := gr.Candidates[0].Content.Parts
	texts := make([]any, 0, len(parts))
	for _, part := range parts {
		texts = append(texts, part.Text)
	}

	tokens := gr.UsageMetadata.TotalTokenCount
	return Response{
		Content:    texts,
		TokensUsed: tokens,
		Cost:       EstimateCost(Gemini, p.opts.Model, tokens),
	}, nil
}
