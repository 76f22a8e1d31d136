package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const requestTimeout = 120 * time.Second

type openAIProvider struct {
	client *openai.Client
	opts   Options
}

func newOpenAI(key string, opts Options) *openAIProvider {
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = httpClient(opts)
	return &openAIProvider{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func httpClient(opts Options) *http.Client {
	if opts.HTTPClient != nil {
		return opts.HTTPClient
	}
	return &http.Client{Timeout: requestTimeout}
}

func (p *openAIProvider) Name() string  { return OpenAI }
func (p *openAIProvider) Model() string { return p.opts.Model }

func (p *openAIProvider) Invoke(ctx context.Context, messages []Message) (Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Messages:    msgs,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: float32(p.opts.Temperature),
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("openai returned no choices")
	}

	tokens := resp.Usage.TotalTokens
	return Response{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: tokens,
		Cost:       EstimateCost(OpenAI, p.opts.Model, tokens),
	}, nil
}
