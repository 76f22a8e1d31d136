package llm

import (
	"context"
	"fmt"

	"github.com/kalambet/redactor/internal/ollama"
)

type ollamaProvider struct {
	client *ollama.Client
	opts   Options
}

func newOllama(opts Options) *ollamaProvider {
	return &ollamaProvider{client: ollama.NewWithHTTPClient(opts.BaseURL, httpClient(opts)), opts: opts}
}

func (p *ollamaProvider) Name() string  { return Ollama }
func (p *ollamaProvider) Model() string { return p.opts.Model }

func (p *ollamaProvider) Invoke(ctx context.Context, messages []Message) (Response, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	res, err := p.client.Chat(ctx, p.opts.Model, msgs, &ollama.Options{
		Temperature: p.opts.Temperature,
		NumPredict:  p.opts.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("ollama chat: %w", err)
	}
	return Response{
		Content:    res.Content,
		TokensUsed: res.PromptTokens + res.CompletionTokens,
	}, nil
}
