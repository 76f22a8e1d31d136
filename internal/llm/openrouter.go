package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/redactor/internal/proxy"
)

type openRouterProvider struct {
	client *proxy.Client
	opts   Options
}

func newOpenRouter(key string, opts Options) *openRouterProvider {
	c := proxy.NewClientWithHTTPClient(key, opts.BaseURL, httpClient(opts))
	return &openRouterProvider{client: c, opts: opts}
}

func (p *openRouterProvider) Name() string  { return OpenRouter }
func (p *openRouterProvider) Model() string { return p.opts.Model }

func (p *openRouterProvider) Invoke(ctx context.Context, messages []Message) (Response, error) {
	msgs := make([]proxy.Message, len(messages))
	for i, m := range messages {
		msgs[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}
	temp := p.opts.Temperature
	resp, err := p.client.Complete(ctx, proxy.ChatRequest{
		Model:       p.opts.Model,
		Messages:    msgs,
		Temperature: &temp,
		MaxTokens:   p.opts.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("openrouter completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("openrouter returned no choices")
	}

	tokens := resp.Usage.TotalTokens
	cost := resp.Usage.Cost
	if cost == 0 {
		cost = EstimateCost(OpenRouter, p.opts.Model, tokens)
	}
	return Response{
		Content:    resp.Choices[0].Content(),
		TokensUsed: tokens,
		Cost:       cost,
	}, nil
}

// RemoteModels lists the model ids OpenRouter currently serves.
func RemoteModels(ctx context.Context, key, baseURL string) ([]string, error) {
	models, err := proxy.NewClientWithHTTPClient(key, baseURL, nil).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing openrouter models: %w", err)
	}
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids, nil
}
