package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/persona"
)

func registry(t *testing.T) *persona.Registry {
	t.Helper()
	r, err := persona.NewRegistry(nil)
	require.NoError(t, err)
	return r
}

// recorder answers every request with reply, or err when set, and keeps what it was sent.
type recorder struct {
	mu       sync.Mutex
	requests []completion.Request
	reply    string
	err      error
}

func (r *recorder) Complete(ctx context.Context, req completion.Request) (completion.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return completion.Message{}, r.err
	}
	return completion.Message{Role: completion.RoleAssistant, Content: r.reply}, nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func TestSubmit_FallenHello(t *testing.T) {
	reg := registry(t)
	fallen := reg.MustLookup(persona.Fallen)
	client := &recorder{reply: "Get out."}
	s := New(zaptest.NewLogger(t), fallen, client)

	require.NoError(t, s.Submit(context.Background(), "hello"))

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, []completion.Message{
		{Role: completion.RoleSystem, Content: fallen.SystemPrompt},
		{Role: completion.RoleUser, Content: "hello"},
	}, req.Messages)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 1e-9)
	assert.Equal(t, 500, req.MaxTokens)

	assert.Equal(t, []completion.Message{
		{Role: completion.RoleUser, Content: "hello"},
		{Role: completion.RoleAssistant, Content: "Get out."},
	}, s.Transcript())
	assert.Equal(t, Idle, s.State())
}

func TestSubmit_NoCredentials(t *testing.T) {
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Messenger), completion.Unconfigured{})

	require.NoError(t, s.Submit(context.Background(), "bless me"))
	assert.Equal(t, []completion.Message{
		{Role: completion.RoleUser, Content: "bless me"},
		{Role: completion.RoleAssistant, Content: FallbackReply},
	}, s.Transcript())
	assert.Equal(t, Idle, s.State())
}

func TestSubmit_EveryFailureKindFallsBack(t *testing.T) {
	kinds := []completion.Kind{
		completion.KindMissingCredentials,
		completion.KindNetwork,
		completion.KindRateLimited,
		completion.KindMalformed,
		completion.KindUpstream,
	}
	reg := registry(t)

	for _, kind := range kinds {
		t.Run(kind.String(), func(t *testing.T) {
			var outcomes []Outcome
			client := &recorder{err: completion.Fail(kind, errors.New("boom"))}
			s := New(zaptest.NewLogger(t), reg.MustLookup(persona.Healer), client,
				WithOutcomeListener(func(o Outcome) { outcomes = append(outcomes, o) }))

			require.NoError(t, s.Submit(context.Background(), "heal"))
			transcript := s.Transcript()
			require.Len(t, transcript, 2)
			assert.Equal(t, completion.Message{Role: completion.RoleAssistant, Content: FallbackReply}, transcript[1])
			assert.Equal(t, Idle, s.State())

			require.Len(t, outcomes, 1)
			assert.Equal(t, kind.String(), outcomes[0].Kind)
			assert.Equal(t, persona.Healer, outcomes[0].Persona)
		})
	}
}

func TestSubmit_BlankReplyIsMalformed(t *testing.T) {
	var outcome Outcome
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Protector), &recorder{reply: "   "},
		WithOutcomeListener(func(o Outcome) { outcome = o }))

	require.NoError(t, s.Submit(context.Background(), "arm me"))
	assert.Equal(t, FallbackReply, s.Transcript()[1].Content)
	assert.Equal(t, completion.KindMalformed.String(), outcome.Kind)
}

func TestSubmit_RejectsEmptyInput(t *testing.T) {
	client := &recorder{reply: "unused"}
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Messenger), client)
	require.NoError(t, s.SetInput("  draft kept  "))

	for _, text := range []string{"", " ", "\t\n  "} {
		err := s.Submit(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Empty(t, s.Transcript())
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, "  draft kept  ", s.Input())
	assert.Zero(t, client.calls())
}

func TestSubmit_RejectsWhileAwaiting(t *testing.T) {
	client := &recorder{reply: "Peace"}
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Messenger), client)

	req, err := s.Begin("first")
	require.NoError(t, err)
	assert.Equal(t, AwaitingResponse, s.State())

	err = s.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, s.SetInput("typing"), ErrBusy)
	assert.Len(t, s.Transcript(), 1)
	assert.Zero(t, client.calls(), "no second request issued")

	s.Await(context.Background(), req)
	assert.Equal(t, Idle, s.State())
	assert.Len(t, s.Transcript(), 2)
	assert.Equal(t, 1, client.calls())
}

func TestSnapshot_RevisionOrdersChanges(t *testing.T) {
	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Fallen), completion.Unconfigured{},
		WithChangeListener(func(snap Snapshot) {
			mu.Lock()
			snaps = append(snaps, snap)
			mu.Unlock()
		}),
	)
	start := s.Snapshot().Revision

	_, err := s.Begin("   ")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, start, s.Snapshot().Revision, "a rejected submission changes nothing")

	req, err := s.Begin("hello")
	require.NoError(t, err)
	accepted := s.Snapshot()
	assert.Greater(t, accepted.Revision, start)
	assert.Equal(t, AwaitingResponse, accepted.State)

	_, err = s.Begin("again")
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, accepted.Revision, s.Snapshot().Revision)

	s.Await(context.Background(), req)
	resolved := s.Snapshot()
	assert.Greater(t, resolved.Revision, accepted.Revision)
	assert.Equal(t, Idle, resolved.State)
	assert.Len(t, resolved.Transcript, 2)

	require.NoError(t, s.SetInput("typing"))
	assert.Greater(t, s.Snapshot().Revision, resolved.Revision)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 2)
	assert.Equal(t, accepted.Revision, snaps[0].Revision)
	assert.Equal(t, resolved.Revision, snaps[1].Revision)
}

func TestSubmit_SystemPromptAlwaysFirst(t *testing.T) {
	reg := registry(t)
	protector := reg.MustLookup(persona.Protector)
	client := &recorder{reply: "Stand firm."}
	s := New(zaptest.NewLogger(t), protector, client)

	inputs := []string{"one", "two", "three", "four"}
	for i, text := range inputs {
		require.NoError(t, s.Submit(context.Background(), text))
		assert.Len(t, s.Transcript(), 2*(i+1), "transcript grows by two per cycle")
	}

	require.Len(t, client.requests, len(inputs))
	for i, req := range client.requests {
		require.Len(t, req.Messages, 2*i+2)
		assert.Equal(t, completion.Message{Role: completion.RoleSystem, Content: protector.SystemPrompt}, req.Messages[0])
		assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: inputs[i]}, req.Messages[len(req.Messages)-1])
	}
	for _, m := range s.Transcript() {
		assert.NotEqual(t, completion.RoleSystem, m.Role, "system prompt is never stored")
	}
}

func TestBegin_ClearsInputAndKeepsText(t *testing.T) {
	var snaps []Snapshot
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Healer), &recorder{reply: "ok"},
		WithChangeListener(func(snap Snapshot) { snaps = append(snaps, snap) }))

	require.NoError(t, s.SetInput("  mend me  "))
	_, err := s.Begin("  mend me  ")
	require.NoError(t, err)

	assert.Empty(t, s.Input())
	assert.Equal(t, "  mend me  ", s.Transcript()[0].Content, "text is stored as entered")
	require.Len(t, snaps, 1)
	assert.Equal(t, AwaitingResponse, snaps[0].State)
}

func TestAwait_Timeout(t *testing.T) {
	hang := completion.ClientFunc(func(ctx context.Context, req completion.Request) (completion.Message, error) {
		<-ctx.Done()
		return completion.Message{}, ctx.Err()
	})
	var outcome Outcome
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Fallen), hang,
		WithTimeout(20*time.Millisecond),
		WithOutcomeListener(func(o Outcome) { outcome = o }))

	require.NoError(t, s.Submit(context.Background(), "hello"))
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, FallbackReply, s.Transcript()[1].Content)
	assert.Equal(t, completion.KindNetwork.String(), outcome.Kind)
}

func TestClose_DiscardsLateReply(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	hang := completion.ClientFunc(func(ctx context.Context, req completion.Request) (completion.Message, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return completion.Message{Role: completion.RoleAssistant, Content: "too late"}, nil
	})
	var outcomes int
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Messenger), hang,
		WithTimeout(0),
		WithOutcomeListener(func(Outcome) { outcomes++ }))

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background(), "hello") }()

	<-started
	s.Close()
	s.Close()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight request was not canceled on close")
	}
	require.NoError(t, <-done)

	assert.True(t, s.Closed())
	assert.Equal(t, []completion.Message{{Role: completion.RoleUser, Content: "hello"}}, s.Transcript())
	assert.Zero(t, outcomes)
	assert.ErrorIs(t, s.Submit(context.Background(), "again"), ErrClosed)
	assert.ErrorIs(t, s.SetInput("x"), ErrClosed)
}

func TestResolve_WithoutPending(t *testing.T) {
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Messenger), &recorder{})
	s.Resolve(completion.Message{Role: completion.RoleAssistant, Content: "stray"}, nil)
	assert.Empty(t, s.Transcript())
}

func TestTagAndLatency(t *testing.T) {
	base := time.UnixMilli(1_718_000_123_456)
	now := base
	clock := func() time.Time { return now }
	client := completion.ClientFunc(func(ctx context.Context, req completion.Request) (completion.Message, error) {
		now = now.Add(1500 * time.Millisecond)
		return completion.Message{Role: completion.RoleAssistant, Content: "ok"}, nil
	})
	var outcome Outcome
	s := New(zaptest.NewLogger(t), registry(t).MustLookup(persona.Messenger), client,
		WithClock(clock),
		WithOutcomeListener(func(o Outcome) { outcome = o }))

	assert.Equal(t, "123456", s.Tag())
	assert.Equal(t, "123456", s.Snapshot().Tag)

	require.NoError(t, s.Submit(context.Background(), "hi"))
	assert.Equal(t, 1500*time.Millisecond, outcome.Latency)
	assert.Equal(t, OutcomeOK, outcome.Kind)
	assert.Equal(t, 2, outcome.TranscriptLen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "awaiting-response", AwaitingResponse.String())
	text, err := AwaitingResponse.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "awaiting-response", string(text))
}
