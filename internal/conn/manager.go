// Package conn owns the single live socket to the chat endpoint and recovers
// from unplanned drops with a bounded number of delayed reconnects.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/albumchat/internal/status"
	"go.uber.org/zap"
)

const (
	DefaultMaxRetries  = 5
	DefaultRetryDelay  = 5 * time.Second
	defaultEventBuffer = 256
)

// ErrNotOpen is returned by Send when there is no open socket.
var ErrNotOpen = errors.New("chat connection is not open")

// Socket is one established transport connection.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a new Socket to the chat endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Socket, error)
}

// EventType classifies connection events.
type EventType int

const (
	EventOpen EventType = iota + 1
	EventMessage
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one item of the connection event stream.
type Event struct {
	Type  EventType
	Frame []byte // set for EventMessage
	Err   error  // cause of EventClosed, nil for a clean stop
}

// Options tunes the reconnect policy. Zero values select the defaults.
type Options struct {
	MaxRetries  int
	RetryDelay  time.Duration
	EventBuffer int
}

type timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Manager maintains at most one live socket and reconnects after drops.
// The retry counter and retry timer belong to the instance.
type Manager struct {
	dialer     Dialer
	machine    *status.Machine
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
	afterFunc  func(time.Duration, func()) timer
	events     chan Event

	mu         sync.Mutex
	sock       Socket
	retries    int
	retryTimer timer
	runCtx     context.Context
	runCancel  context.CancelFunc
	attempt    uint64
}

// NewManager creates a connection manager in the DISCONNECTED state.
func NewManager(d Dialer, machine *status.Machine, opts Options, logger *zap.Logger) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dialer:     d,
		machine:    machine,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		afterFunc:  realAfterFunc,
		events:     make(chan Event, opts.EventBuffer),
	}
}

// Events returns the connection event stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Retries returns the number of reconnect attempts since the last open.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Start opens one connection attempt in the background. It is a no-op while
// an attempt is in flight or the socket is open. Failures feed the retry
// logic and are never returned.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked()
}

func (m *Manager) startLocked() {
	switch m.machine.Current() {
	case status.Connecting, status.Open:
		return
	case status.GivenUp:
		m.logger.Warn("reconnect attempts exhausted, stop the session before starting again")
		return
	case status.Disconnected:
		m.runCtx, m.runCancel = context.WithCancel(context.Background())
		m.retries = 0
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.logger.Error("cannot start connection", zap.Error(err))
		return
	}
	m.attempt++
	go m.run(m.runCtx, m.attempt)
}

// Send transmits payload when the socket is open. Otherwise nothing is
// written and ErrNotOpen is returned.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sock == nil || !m.machine.Is(status.Open) {
		return ErrNotOpen
	}
	if err := m.sock.WriteMessage(payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Stop releases the socket and any pending retry timer. Safe to call any
// number of times.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.machine.Is(status.Disconnected) {
		m.mu.Unlock()
		return
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	m.cancelTimerLocked()
	m.attempt++
	sock := m.sock
	m.sock = nil
	if err := m.machine.Transition(status.Disconnected); err != nil {
		m.logger.Error("stop transition failed", zap.Error(err))
	}
	m.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			m.logger.Debug("close socket", zap.Error(err))
		}
	}
	m.logger.Info("chat connection stopped")
}

func (m *Manager) run(ctx context.Context, attempt uint64) {
	sock, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if ctx.Err() != nil || attempt != m.attempt {
		m.mu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("chat connection attempt failed", zap.Error(err), zap.Int("retries", m.retries))
		m.failLocked()
		m.mu.Unlock()
		m.emit(ctx, Event{Type: EventClosed, Err: err})
		return
	}
	m.sock = sock
	m.retries = 0
	m.cancelTimerLocked()
	if err := m.machine.Transition(status.Open); err != nil {
		m.logger.Error("open transition failed", zap.Error(err))
	}
	m.mu.Unlock()

	m.logger.Info("chat connection open")
	m.emit(ctx, Event{Type: EventOpen})
	m.readLoop(ctx, attempt, sock)
}

func (m *Manager) readLoop(ctx context.Context, attempt uint64, sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			m.mu.Lock()
			current := m.sock == sock && attempt == m.attempt && ctx.Err() == nil
			if current {
				m.sock = nil
				m.logger.Warn("chat connection lost", zap.Error(err))
				m.failLocked()
			}
			m.mu.Unlock()

			_ = sock.Close()
			if current {
				m.emit(ctx, Event{Type: EventClosed, Err: err})
			}
			return
		}
		m.emit(ctx, Event{Type: EventMessage, Frame: data})
	}
}

// failLocked schedules the next reconnect or gives up once the retry budget
// is spent.
func (m *Manager) failLocked() {
	if m.retries >= m.maxRetries {
		m.cancelTimerLocked()
		if err := m.machine.Transition(status.GivenUp); err != nil {
			m.logger.Error("give up transition failed", zap.Error(err))
		}
		m.logger.Error("giving up on chat connection", zap.Int("retries", m.retries))
		return
	}
	m.retries++
	if err := m.machine.Transition(status.Reconnecting); err != nil {
		m.logger.Error("reconnect transition failed", zap.Error(err))
		return
	}
	m.cancelTimerLocked()
	attempt := m.attempt
	m.retryTimer = m.afterFunc(m.retryDelay, func() { m.retryFired(attempt) })
	m.logger.Info("reconnect scheduled", zap.Int("retry", m.retries), zap.Duration("delay", m.retryDelay))
}

func (m *Manager) retryFired(attempt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt || !m.machine.Is(status.Reconnecting) {
		return
	}
	m.retryTimer = nil
	m.startLocked()
}

func (m *Manager) cancelTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) emit(ctx context.Context, evt Event) {
	select {
	case m.events <- evt:
	case <-ctx.Done():
	}
}
