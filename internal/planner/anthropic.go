package planner

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicPlanner drives classification and agent decisions through the
// Anthropic messages API.
type AnthropicPlanner struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicPlanner creates a planner. An empty model defaults to
// claude-3-5-haiku-latest, fast enough to sit on the classification path.
func NewAnthropicPlanner(apiKey, model string) *AnthropicPlanner {
	m := anthropic.Model("claude-3-5-haiku-latest")
	if model != "" {
		m = anthropic.Model(model)
	}
	return &AnthropicPlanner{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

// Classify implements Planner.
func (p *AnthropicPlanner) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	text, err := p.complete(ctx, classifySystemPrompt(req.Strict), classifyUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseClassifyResult(text)
}

// Think implements Planner.
func (p *AnthropicPlanner) Think(ctx context.Context, req ThinkRequest) (*Decision, error) {
	text, err := p.complete(ctx, thinkSystemPrompt(req), thinkUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseDecision(text)
}

func (p *AnthropicPlanner) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic completion: %w: no text blocks", ErrUnparsable)
	}
	return text, nil
}
