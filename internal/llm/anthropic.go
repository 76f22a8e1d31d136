package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

type anthropicProvider struct {
	client anthropic.Client
	opts   Options
}

func newAnthropic(key string, opts Options) *anthropicProvider {
	reqOpts := []option.RequestOption{
		// Explicit key so a stray ANTHROPIC_AUTH_TOKEN cannot take over.
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient(opts)),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &anthropicProvider{client: anthropic.NewClient(reqOpts...), opts: opts}
}

func (p *anthropicProvider) Name() string  { return Anthropic }
func (p *anthropicProvider) Model() string { return p.opts.Model }

func (p *anthropicProvider) Invoke(ctx context.Context, messages []Message) (Response, error) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.opts.Model),
		MaxTokens:   int64(p.opts.MaxTokens),
		System:      system,
		Messages:    turns,
		Temperature: param.NewOpt(p.opts.Temperature),
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var parts []any
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}

	tokens := int(msg.Usage.InputTokens + msg.Usage.OutputTokens)
	return Response{
		Content:    parts,
		TokensUsed: tokens,
		Cost:       EstimateCost(Anthropic, p.opts.Model, tokens),
	}, nil
}
