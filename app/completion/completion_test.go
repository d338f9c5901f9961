package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type fakeGenerator struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}
	return f.resp, f.err
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok, "part should be text, got %T", m.Parts[0])
	return part.Text
}

func TestLLMClient_Complete(t *testing.T) {
	gen := &fakeGenerator{
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Get out."}}},
	}
	client := NewLLMClient(zaptest.NewLogger(t), ProviderOpenAI, gen)

	reply, err := client.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You are Lucifer"},
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "What?"},
			{Role: RoleUser, Content: "hello again"},
		},
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Get out."}, reply)

	require.Len(t, gen.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, gen.messages[0].Role)
	assert.Equal(t, "You are Lucifer", textOf(t, gen.messages[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, gen.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, gen.messages[2].Role)
	assert.Equal(t, "hello again", textOf(t, gen.messages[3]))

	assert.Equal(t, "gpt-4o-mini", gen.options.Model)
	assert.InDelta(t, 0.7, gen.options.Temperature, 1e-9)
	assert.Equal(t, 500, gen.options.MaxTokens)
}

func TestLLMClient_Failures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
		req  Request
		want Kind
	}{
		{
			name: "empty request",
			gen:  &fakeGenerator{},
			req:  Request{},
			want: KindUpstream,
		},
		{
			name: "no choices",
			gen:  &fakeGenerator{resp: &llms.ContentResponse{}},
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}},
			want: KindMalformed,
		},
		{
			name: "blank choice",
			gen:  &fakeGenerator{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "  "}}}},
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}},
			want: KindMalformed,
		},
		{
			name: "provider rate limit",
			gen:  &fakeGenerator{err: errors.New("API returned unexpected status code: 429: Rate limit reached")},
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}},
			want: KindRateLimited,
		},
		{
			name: "provider empty response",
			gen:  &fakeGenerator{err: openai.ErrEmptyResponse},
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}},
			want: KindMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewLLMClient(zaptest.NewLogger(t), ProviderOpenAI, tt.gen)
			_, err := client.Complete(context.Background(), tt.req)
			require.Error(t, err)

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.want, f.Kind)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"explicit failure", Fail(KindMalformed, errors.New("bad json")), KindMalformed},
		{"wrapped failure", fmt.Errorf("outer: %w", Fail(KindRateLimited, nil)), KindRateLimited},
		{"missing credentials", ErrMissingCredentials, KindMissingCredentials},
		{"missing openai token", openai.ErrMissingToken, KindMissingCredentials},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"net error", fmt.Errorf("post: %w", timeoutErr{}), KindNetwork},
		{"too many requests", errors.New("Too Many Requests"), KindRateLimited},
		{"bad payload", errors.New("json: cannot unmarshal number"), KindMalformed},
		{"eof", fmt.Errorf("read body: %w", io.EOF), KindNetwork},
		{"unexpected eof", fmt.Errorf("decode: %w", io.ErrUnexpectedEOF), KindNetwork},
		{"eof in text", errors.New(`Post "http://localhost:11434/api/chat": EOF`), KindNetwork},
		{"word ending in eof", errors.New("upstream refused the request, the reason thereof is unknown"), KindUpstream},
		{"other", errors.New("status code: 500"), KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, KindMissingCredentials, KindOf(err))
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.False(t, Retryable(err))
}

func TestRetrying(t *testing.T) {
	t.Run("retries rate limited until success", func(t *testing.T) {
		var calls atomic.Int32
		next := ClientFunc(func(ctx context.Context, req Request) (Message, error) {
			if calls.Add(1) < 3 {
				return Message{}, Fail(KindRateLimited, errors.New("slow down"))
			}
			return Message{Role: RoleAssistant, Content: "ok"}, nil
		})

		r := NewRetrying(zaptest.NewLogger(t), next, 3, time.Millisecond)
		msg, err := r.Complete(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", msg.Content)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		var calls atomic.Int32
		next := ClientFunc(func(ctx context.Context, req Request) (Message, error) {
			calls.Add(1)
			return Message{}, Fail(KindRateLimited, errors.New("slow down"))
		})

		r := NewRetrying(zaptest.NewLogger(t), next, 2, time.Millisecond)
		_, err := r.Complete(context.Background(), Request{})
		assert.Equal(t, KindRateLimited, KindOf(err))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("does not retry other kinds", func(t *testing.T) {
		var calls atomic.Int32
		next := ClientFunc(func(ctx context.Context, req Request) (Message, error) {
			calls.Add(1)
			return Message{}, Fail(KindNetwork, errors.New("refused"))
		})

		r := NewRetrying(zaptest.NewLogger(t), next, 5, time.Millisecond)
		_, err := r.Complete(context.Background(), Request{})
		assert.Equal(t, KindNetwork, KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stops waiting when canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		next := ClientFunc(func(ctx context.Context, req Request) (Message, error) {
			cancel()
			return Message{}, Fail(KindRateLimited, errors.New("slow down"))
		})

		r := NewRetrying(zaptest.NewLogger(t), next, 5, time.Hour)
		_, err := r.Complete(ctx, Request{})
		assert.Equal(t, KindCanceled, KindOf(err))
	})
}

func TestThrottled(t *testing.T) {
	var calls atomic.Int32
	next := ClientFunc(func(ctx context.Context, req Request) (Message, error) {
		calls.Add(1)
		return Message{Role: RoleAssistant, Content: "ok"}, nil
	})

	// One token, refilled once an hour: the second call cannot be served before the deadline
	th := NewThrottled(next, rate.Every(time.Hour), 1)

	_, err := th.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = th.Complete(ctx, Request{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew(t *testing.T) {
	log := zaptest.NewLogger(t)

	t.Run("no key yields unconfigured client", func(t *testing.T) {
		client, err := New(log, Config{Provider: ProviderOpenAI})
		require.NoError(t, err)
		assert.IsType(t, Unconfigured{}, client)
	})

	t.Run("openai with key", func(t *testing.T) {
		client, err := New(log, Config{Provider: ProviderOpenAI, OpenAIAPIKey: "sk-test"})
		require.NoError(t, err)
		assert.IsType(t, &LLMClient{}, client)
	})

	t.Run("decorators wrap in order", func(t *testing.T) {
		client, err := New(log, Config{OpenAIAPIKey: "sk-test", RateLimit: 2, RateBurst: 2, RetryAttempts: 3})
		require.NoError(t, err)
		retrying, ok := client.(*Retrying)
		require.True(t, ok, "outermost should retry, got %T", client)
		assert.IsType(t, &Throttled{}, retrying.next)
	})

	t.Run("ollama", func(t *testing.T) {
		client, err := New(log, Config{Provider: ProviderOllama, OllamaURL: "http://127.0.0.1:11434", DefaultModel: "llama3"})
		require.NoError(t, err)
		assert.IsType(t, &LLMClient{}, client)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(log, Config{Provider: "carrier-pigeon"})
		require.Error(t, err)
	})
}
