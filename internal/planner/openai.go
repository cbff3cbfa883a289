package planner

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIPlanner drives classification and agent decisions through the
// OpenAI chat completions API in JSON mode.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

// NewOpenAIPlanner creates a planner. An empty model defaults to gpt-4o-mini.
func NewOpenAIPlanner(apiKey, model, baseURL string) *OpenAIPlanner {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIPlanner{client: openai.NewClientWithConfig(cfg), model: model}
}

// Classify implements Planner.
func (p *OpenAIPlanner) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	text, err := p.complete(ctx, classifySystemPrompt(req.Strict), classifyUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseClassifyResult(text)
}

// Think implements Planner.
func (p *OpenAIPlanner) Think(ctx context.Context, req ThinkRequest) (*Decision, error) {
	text, err := p.complete(ctx, thinkSystemPrompt(req), thinkUserPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseDecision(text)
}

func (p *OpenAIPlanner) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: %w: empty choices", ErrUnparsable)
	}
	return resp.Choices[0].Message.Content, nil
}
