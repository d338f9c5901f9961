// Package session runs the conversation protocol of one persona screen.
//
// A session is Idle until a non-empty message is submitted, then AwaitingResponse until the
// completion client answers or fails, then Idle again. Every resolution appends exactly one
// assistant message: the reply, or FallbackReply when the client failed for any reason.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/persona"
)

// FallbackReply is appended in place of a reply whenever the completion fails.
const FallbackReply = "I apologize, but I encountered an error. Please try again."

const DefaultTimeout = 60 * time.Second

var (
	ErrEmptyInput = errors.New("message is empty")
	ErrBusy       = errors.New("a reply is still pending")
	ErrClosed     = errors.New("session is closed")
)

type State int

const (
	Idle State = iota
	AwaitingResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting-response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "awaiting-response":
		*s = AwaitingResponse
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// OutcomeOK is the outcome kind of a successful exchange.
const OutcomeOK = "ok"

// Outcome describes one resolved exchange, without its content.
type Outcome struct {
	Persona       persona.ID
	Kind          string
	Latency       time.Duration
	TranscriptLen int
	At            time.Time
}

// Snapshot is a copy of the session at one revision. Revision grows with every change, so a
// consumer receiving snapshots over several channels keeps the one with the highest revision.
type Snapshot struct {
	Revision   uint64               `json:"revision"`
	Persona    persona.ID           `json:"persona"`
	State      State                `json:"state"`
	Input      string               `json:"input"`
	Transcript []completion.Message `json:"transcript"`
	Tag        string               `json:"tag"`
	Closed     bool                 `json:"closed"`
}

type Option func(*Session)

// WithTimeout bounds each completion call. Zero or negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithChangeListener is called after every accepted transition, outside the session lock.
func WithChangeListener(fn func(Snapshot)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

func WithOutcomeListener(fn func(Outcome)) Option {
	return func(s *Session) {
		s.onOutcome = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

type Session struct {
	log     *zap.Logger
	persona persona.Persona
	client  completion.Client

	timeout   time.Duration
	onChange  func(Snapshot)
	onOutcome func(Outcome)
	now       func() time.Time

	// canceled on Close, aborts the in-flight request
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	revision   uint64
	state      State
	input      string
	transcript []completion.Message
	createdAt  time.Time
	sentAt     time.Time
	closed     bool
}

func New(log *zap.Logger, p persona.Persona, client completion.Client, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:     log.With(zap.String("persona", p.ID.String())),
		persona: p,
		client:  client,
		timeout: DefaultTimeout,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.now()
	return s
}

func (s *Session) Persona() persona.Persona {
	return s.persona
}

// Submit runs one full exchange and blocks until it resolves. A rejected submission
// returns ErrEmptyInput, ErrBusy or ErrClosed and changes nothing.
func (s *Session) Submit(ctx context.Context, text string) error {
	req, err := s.Begin(text)
	if err != nil {
		return err
	}
	s.Await(ctx, req)
	return nil
}

// Begin accepts text as the next user message and returns the request to send.
func (s *Session) Begin(text string) (completion.Request, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return completion.Request{}, ErrClosed
	case s.state == AwaitingResponse:
		s.mu.Unlock()
		return completion.Request{}, ErrBusy
	case strings.TrimSpace(text) == "":
		s.mu.Unlock()
		return completion.Request{}, ErrEmptyInput
	}

	s.transcript = append(s.transcript, completion.Message{Role: completion.RoleUser, Content: text})
	s.input = ""
	s.state = AwaitingResponse
	s.sentAt = s.now()
	s.revision++

	messages := make([]completion.Message, 0, len(s.transcript)+1)
	messages = append(messages, completion.Message{Role: completion.RoleSystem, Content: s.persona.SystemPrompt})
	messages = append(messages, s.transcript...)
	req := completion.Request{
		Messages:    messages,
		Model:       s.persona.Model,
		Temperature: s.persona.Temperature,
		MaxTokens:   s.persona.MaxTokens,
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug("Message accepted", zap.Int("transcript_len", len(snap.Transcript)))
	s.notify(snap)
	return req, nil
}

// Await sends req and resolves the session with the result. The call is bounded by the
// session timeout and canceled when either ctx is done or the session is closed.
func (s *Session) Await(ctx context.Context, req completion.Request) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	reply, err := s.client.Complete(ctx, req)
	s.Resolve(reply, err)
}

// Resolve ends the pending exchange. Results that arrive after Close are discarded.
func (s *Session) Resolve(reply completion.Message, err error) {
	if err == nil && strings.TrimSpace(reply.Content) == "" {
		err = completion.Fail(completion.KindMalformed, errors.New("empty reply"))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug("Discarding reply for closed session", zap.Error(err))
		return
	}
	if s.state != AwaitingResponse {
		s.mu.Unlock()
		s.log.Warn("Reply without a pending request")
		return
	}

	kind := OutcomeOK
	content := reply.Content
	if err != nil {
		kind = completion.KindOf(err).String()
		content = FallbackReply
	}
	s.transcript = append(s.transcript, completion.Message{Role: completion.RoleAssistant, Content: content})
	s.state = Idle
	s.revision++
	outcome := Outcome{
		Persona:       s.persona.ID,
		Kind:          kind,
		Latency:       s.now().Sub(s.sentAt),
		TranscriptLen: len(s.transcript),
		At:            s.now(),
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Completion failed", zap.String("kind", kind), zap.Error(err))
	} else {
		s.log.Debug("Reply received", zap.Duration("latency", outcome.Latency))
	}
	s.notify(snap)
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
}

// SetInput replaces the pending input buffer. Text entry is disabled while awaiting a reply.
func (s *Session) SetInput(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state == AwaitingResponse {
		return ErrBusy
	}
	s.input = text
	s.revision++
	return nil
}

func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the user and assistant messages so far.
func (s *Session) Transcript() []completion.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]completion.Message(nil), s.transcript...)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Tag is a short display identifier: the last six digits of the creation time in milliseconds.
func (s *Session) Tag() string {
	return fmt.Sprintf("%06d", s.createdAt.UnixMilli()%1_000_000)
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Close tears the session down and cancels any request in flight. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.revision++
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Revision:   s.revision,
		Persona:    s.persona.ID,
		State:      s.state,
		Input:      s.input,
		Transcript: append([]completion.Message(nil), s.transcript...),
		Tag:        s.Tag(),
		Closed:     s.closed,
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
