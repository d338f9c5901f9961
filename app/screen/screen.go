// Package screen owns the live persona screens and drives their sessions asynchronously.
package screen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/ledger"
	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/session"
)

var (
	ErrUnknownPersona = errors.New("unknown persona")
	ErrUnknownScreen  = errors.New("unknown screen")
	ErrShuttingDown   = errors.New("screens are shutting down")
)

// Publisher pushes screen updates to the page that shows them.
type Publisher interface {
	Publish(screenID string, snap session.Snapshot)
}

// Recorder stores exchange outcomes.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}

type Screen struct {
	ID      string
	session *session.Session

	streams  atomic.Int32
	lastSeen atomic.Int64

	// set once a page has streamed this screen
	attached atomic.Bool
}

func (s *Screen) Session() *session.Session {
	return s.session
}

func (s *Screen) Persona() persona.Persona {
	return s.session.Persona()
}

func (s *Screen) Snapshot() session.Snapshot {
	return s.session.Snapshot()
}

func (s *Screen) Tag() string {
	return s.session.Tag()
}

// Connected reports whether a page is streaming this screen.
func (s *Screen) Connected() bool {
	return s.streams.Load() > 0
}

func (s *Screen) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

const (
	DefaultIdleTTL        = 10 * time.Minute
	DefaultReconnectGrace = 30 * time.Second
	recordTimeout         = 5 * time.Second
)

type Option func(*Manager)

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithCompletionTimeout bounds every completion call made for a screen.
func WithCompletionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithIdleTTL sets how long a screen whose page never connected is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) {
		m.idleTTL = d
	}
}

// WithReconnectGrace sets how long a screen survives after its event stream dropped.
func WithReconnectGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.reconnectGrace = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type Manager struct {
	log       *zap.Logger
	registry  *persona.Registry
	client    completion.Client
	publisher Publisher
	recorder  Recorder
	timeout        time.Duration
	idleTTL        time.Duration
	reconnectGrace time.Duration
	now            func() time.Time

	mu      sync.RWMutex
	screens map[string]*Screen
	closing bool

	inflight sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
	reaper   sync.WaitGroup
}

func NewManager(log *zap.Logger, registry *persona.Registry, client completion.Client, opts ...Option) *Manager {
	m := &Manager{
		log:      log,
		registry: registry,
		client:   client,
		timeout:  session.DefaultTimeout,
		idleTTL:        DefaultIdleTTL,
		reconnectGrace: DefaultReconnectGrace,
		now:            time.Now,
		screens:        make(map[string]*Screen),
		stop:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a fresh screen for the persona with an empty transcript.
func (m *Manager) Open(id persona.ID) (*Screen, error) {
	p, ok := m.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}

	scr := &Screen{ID: uuid.NewString()}
	log := m.log.With(zap.String("screen", scr.ID))
	scr.session = session.New(log, p, m.client,
		session.WithTimeout(m.timeout),
		session.WithClock(m.now),
		session.WithChangeListener(func(snap session.Snapshot) {
			if m.publisher != nil {
				m.publisher.Publish(scr.ID, snap)
			}
		}),
		session.WithOutcomeListener(func(o session.Outcome) {
			m.record(log, o)
		}),
	)
	scr.touch(m.now())

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		scr.session.Close()
		return nil, ErrShuttingDown
	}
	m.screens[scr.ID] = scr
	m.mu.Unlock()

	log.Info("Screen opened", zap.String("persona", p.ID.String()), zap.String("tag", scr.Tag()))
	return scr, nil
}

func (m *Manager) Get(id string) (*Screen, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scr, ok := m.screens[id]
	return scr, ok
}

// Submit accepts text on the screen and returns once the user message is in the transcript.
// The completion runs in the background and is published when it resolves.
func (m *Manager) Submit(ctx context.Context, id, text string) (session.Snapshot, error) {
	scr, ok := m.Get(id)
	if !ok {
		return session.Snapshot{}, ErrUnknownScreen
	}
	scr.touch(m.now())

	req, err := scr.session.Begin(text)
	if err != nil {
		return scr.Snapshot(), err
	}
	snap := scr.Snapshot()

	// closing is set under mu before Shutdown waits, so Add never races Wait
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return snap, ErrShuttingDown
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	// Detached from the request; the session's own teardown and timeout bound the call
	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer m.inflight.Done()
		scr.session.Await(callCtx, req)
	}()
	return snap, nil
}

// Connect marks the screen as shown by a live page.
func (m *Manager) Connect(id string) (*Screen, error) {
	scr, ok := m.Get(id)
	if !ok {
		return nil, ErrUnknownScreen
	}
	scr.streams.Add(1)
	scr.attached.Store(true)
	scr.touch(m.now())
	return scr, nil
}

// Disconnect records that one event stream of the page went away. The screen is kept for
// the reconnect grace so a page that reconnects finds its transcript.
func (m *Manager) Disconnect(id string) {
	scr, ok := m.Get(id)
	if !ok {
		return
	}
	scr.touch(m.now())
	scr.streams.Add(-1)
}

// Leave tears the screen down, dropping its transcript and any pending reply.
func (m *Manager) Leave(id string) bool {
	m.mu.Lock()
	scr, ok := m.screens[id]
	delete(m.screens, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	scr.session.Close()
	m.log.Info("Screen closed", zap.String("screen", id), zap.String("persona", scr.Persona().ID.String()))
	return true
}

// Reap closes screens whose page never connected within the idle TTL, and screens whose
// event stream dropped longer than the reconnect grace ago.
func (m *Manager) Reap() int {
	now := m.now()
	idleCutoff := now.Add(-m.idleTTL).UnixNano()
	graceCutoff := now.Add(-m.reconnectGrace).UnixNano()

	var stale []string
	m.mu.RLock()
	for id, scr := range m.screens {
		if scr.Connected() {
			continue
		}
		cutoff := idleCutoff
		if scr.attached.Load() {
			cutoff = graceCutoff
		}
		if scr.lastSeen.Load() < cutoff {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if m.Leave(id) {
			n++
		}
	}
	if n > 0 {
		m.log.Debug("Reaped idle screens", zap.Int("count", n))
	}
	return n
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.screens)
}

// Start runs the idle reaper until Shutdown.
func (m *Manager) Start() {
	interval := min(m.idleTTL, m.reconnectGrace) / 2
	if interval <= 0 {
		return
	}
	m.reaper.Add(1)
	go func() {
		defer m.reaper.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Reap()
			}
		}
	}()
}

// Shutdown closes every screen and waits for in-flight completions to unwind.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.reaper.Wait()

	m.mu.Lock()
	m.closing = true
	ids := make([]string, 0, len(m.screens))
	for id := range m.screens {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Leave(id)
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight completions: %w", ctx.Err())
	}
}

func (m *Manager) record(log *zap.Logger, o session.Outcome) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := m.recorder.Record(ctx, ledger.Entry{
		Persona:       o.Persona.String(),
		Outcome:       o.Kind,
		Latency:       o.Latency,
		TranscriptLen: o.TranscriptLen,
		At:            o.At,
	})
	if err != nil {
		log.Warn("Failed to record exchange", zap.Error(err))
	}
}
