package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// generator is the part of llms.Model used here
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LLMClient sends requests through a langchaingo model.
type LLMClient struct {
	log      *zap.Logger
	provider string
	model    generator
}

func NewLLMClient(log *zap.Logger, provider string, model generator) *LLMClient {
	return &LLMClient{
		log:      log,
		provider: provider,
		model:    model,
	}
}

func (c *LLMClient) Complete(ctx context.Context, req Request) (Message, error) {
	if len(req.Messages) == 0 {
		return Message{}, Fail(KindUpstream, errors.New("empty message list"))
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens),
	}
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}

	c.log.Debug("Sending completion request",
		zap.String("provider", c.provider),
		zap.String("model", req.Model),
		zap.Int("messages", len(content)),
	)

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return Message{}, Fail(classify(err), fmt.Errorf("generate content: %w", err))
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return Message{}, Fail(KindMalformed, errors.New("response has no choices"))
	}

	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return Message{}, Fail(KindMalformed, errors.New("response choice is empty"))
	}
	return Message{Role: RoleAssistant, Content: text}, nil
}

func messageType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
