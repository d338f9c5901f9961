// Package completion is the boundary to the external chat completion service.
package completion

import "context"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a conversation. Treat as immutable.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is an ordered message list plus the model parameters to generate with.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client turns a message list into one assistant message. Failures are reported as *Failure.
type Client interface {
	Complete(ctx context.Context, req Request) (Message, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (Message, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Message, error) {
	return f(ctx, req)
}
