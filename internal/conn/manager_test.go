package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/status"
	"go.uber.org/zap"
)

// fakeSocket delivers frames pushed on inbound and fails reads once dropped.
type fakeSocket struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written [][]byte
	closes  int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{inbound: make(chan []byte, 16), done: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case <-s.done:
		return nil, errors.New("connection reset by peer")
	}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.drop()
	return nil
}

func (s *fakeSocket) drop() {
	s.once.Do(func() { close(s.done) })
}

func (s *fakeSocket) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

// fakeDialer hands out queued results; an empty queue fails the dial.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	sock *fakeSocket
	err  error
}

func (d *fakeDialer) push(sock *fakeSocket, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, dialResult{sock: sock, err: err})
}

func (d *fakeDialer) Dial(context.Context) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.sock, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeClock captures scheduled retries instead of sleeping.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func (c *fakeClock) afterFunc(d time.Duration, fn func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single pending timer.
func (c *fakeClock) fire(t *testing.T) {
	t.Helper()
	p := c.pending()
	if len(p) != 1 {
		t.Fatalf("pending timers = %d, want exactly 1", len(p))
	}
	c.mu.Lock()
	p[0].fired = true
	c.mu.Unlock()
	p[0].fn()
}

func newTestManager(d Dialer, b *bus.Bus) (*Manager, *fakeClock) {
	clock := &fakeClock{}
	m := NewManager(d, status.NewMachine(b), Options{}, zap.NewNop())
	m.afterFunc = clock.afterFunc
	return m, clock
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", desc)
}

func waitState(t *testing.T, m *Manager, want status.State) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return m.State() == want })
	// Transitions happen under the manager lock; taking it here waits for
	// the rest of that critical section, such as arming the retry timer.
	_ = m.Retries()
}

func TestStartOpens(t *testing.T) {
	d := &fakeDialer{}
	d.push(newFakeSocket(), nil)
	m, _ := newTestManager(d, nil)
	defer m.Stop()

	m.Start()
	waitState(t, m, status.Open)

	select {
	case evt := <-m.Events():
		if evt.Type != EventOpen {
			t.Errorf("first event = %s, want open", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for open event")
	}
}

func TestStartIsIdempotentWhileOpen(t *testing.T) {
	d := &fakeDialer{}
	d.push(newFakeSocket(), nil)
	m, _ := newTestManager(d, nil)
	defer m.Stop()

	m.Start()
	waitState(t, m, status.Open)
	m.Start()
	m.Start()

	time.Sleep(20 * time.Millisecond)
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}
}

func TestInboundFramesAreDelivered(t *testing.T) {
	sock := newFakeSocket()
	d := &fakeDialer{}
	d.push(sock, nil)
	m, _ := newTestManager(d, nil)
	defer m.Stop()

	m.Start()
	<-m.Events() // open

	sock.inbound <- []byte(`{"id":"1"}`)
	select {
	case evt := <-m.Events():
		if evt.Type != EventMessage || string(evt.Frame) != `{"id":"1"}` {
			t.Errorf("event = %s %q", evt.Type, evt.Frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message event")
	}
}

func TestSendRequiresOpen(t *testing.T) {
	sock := newFakeSocket()
	d := &fakeDialer{}
	d.push(sock, nil)
	m, _ := newTestManager(d, nil)
	defer m.Stop()

	if err := m.Send([]byte("early")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send before start = %v, want ErrNotOpen", err)
	}

	m.Start()
	waitState(t, m, status.Open)
	if err := m.Send([]byte("hello")); err != nil {
		t.Fatalf("Send while open: %v", err)
	}
	if sock.writes() != 1 {
		t.Errorf("writes = %d, want 1", sock.writes())
	}

	m.Stop()
	if err := m.Send([]byte("late")); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send after stop = %v, want ErrNotOpen", err)
	}
	if sock.writes() != 1 {
		t.Errorf("writes after stop = %d, want 1", sock.writes())
	}
}

// TestReconnectAfterDrop covers open → unexpected close → delayed retry →
// open again with the counter reset.
func TestReconnectAfterDrop(t *testing.T) {
	first, second := newFakeSocket(), newFakeSocket()
	d := &fakeDialer{}
	d.push(first, nil)
	d.push(second, nil)
	m, clock := newTestManager(d, nil)
	defer m.Stop()

	m.Start()
	waitState(t, m, status.Open)

	first.drop()
	waitState(t, m, status.Reconnecting)
	if m.Retries() != 1 {
		t.Errorf("retries after drop = %d, want 1", m.Retries())
	}
	p := clock.pending()
	if len(p) != 1 {
		t.Fatalf("pending timers = %d, want 1", len(p))
	}
	if p[0].delay != DefaultRetryDelay {
		t.Errorf("retry delay = %v, want %v", p[0].delay, DefaultRetryDelay)
	}

	clock.fire(t)
	waitState(t, m, status.Open)
	if m.Retries() != 0 {
		t.Errorf("retries after reconnect = %d, want 0", m.Retries())
	}
	if len(clock.pending()) != 0 {
		t.Errorf("pending timers after reconnect = %d, want 0", len(clock.pending()))
	}
	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
}

// TestGivesUpAfterMaxRetries drives a dialer that always fails and checks the
// retry budget and the single pending timer invariant at every step.
func TestGivesUpAfterMaxRetries(t *testing.T) {
	d := &fakeDialer{}
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 64)
	defer unsub()
	m, clock := newTestManager(d, b)
	defer m.Stop()

	m.Start()
	for i := 1; i <= DefaultMaxRetries; i++ {
		waitFor(t, "retry scheduled", func() bool {
			return m.State() == status.Reconnecting && m.Retries() == i
		})
		if n := len(clock.pending()); n != 1 {
			t.Fatalf("retry %d: pending timers = %d, want 1", i, n)
		}
		clock.fire(t)
	}

	waitState(t, m, status.GivenUp)
	if m.Retries() != DefaultMaxRetries {
		t.Errorf("retries = %d, want %d", m.Retries(), DefaultMaxRetries)
	}
	if n := len(clock.pending()); n != 0 {
		t.Errorf("pending timers after giving up = %d, want 0", n)
	}
	if d.dials() != DefaultMaxRetries+1 {
		t.Errorf("dials = %d, want %d", d.dials(), DefaultMaxRetries+1)
	}

	// GIVEN_UP is terminal for Start.
	m.Start()
	time.Sleep(20 * time.Millisecond)
	if m.State() != status.GivenUp {
		t.Errorf("state after Start in GIVEN_UP = %s", m.State())
	}

	sawGivenUp := false
	for len(ch) > 0 {
		evt := <-ch
		if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.GivenUp {
			sawGivenUp = true
		}
	}
	if !sawGivenUp {
		t.Error("no status change to GIVEN_UP published")
	}
}

func TestRetryCounterNeverExceedsMax(t *testing.T) {
	d := &fakeDialer{}
	m, clock := newTestManager(d, nil)
	defer m.Stop()

	m.Start()
	for m.State() != status.GivenUp {
		waitFor(t, "settled state", func() bool {
			return m.State() == status.Reconnecting || m.State() == status.GivenUp
		})
		if m.Retries() > DefaultMaxRetries {
			t.Fatalf("retries = %d exceeds %d", m.Retries(), DefaultMaxRetries)
		}
		if m.State() == status.GivenUp {
			break
		}
		clock.fire(t)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sock := newFakeSocket()
	d := &fakeDialer{}
	d.push(sock, nil)
	m, _ := newTestManager(d, nil)

	m.Stop() // before start
	m.Start()
	waitState(t, m, status.Open)

	m.Stop()
	m.Stop()
	m.Stop()

	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
	sock.mu.Lock()
	closes := sock.closes
	sock.mu.Unlock()
	if closes < 1 {
		t.Error("socket was not closed")
	}
}

func TestStopCancelsPendingRetry(t *testing.T) {
	sock := newFakeSocket()
	d := &fakeDialer{}
	d.push(sock, nil)
	m, clock := newTestManager(d, nil)

	m.Start()
	waitState(t, m, status.Open)
	sock.drop()
	waitState(t, m, status.Reconnecting)

	p := clock.pending()
	m.Stop()
	if len(clock.pending()) != 0 {
		t.Fatalf("pending timers after stop = %d, want 0", len(clock.pending()))
	}

	// A timer that fires late must not reconnect.
	p[0].fn()
	time.Sleep(20 * time.Millisecond)
	if m.State() != status.Disconnected {
		t.Errorf("state after late timer = %s, want DISCONNECTED", m.State())
	}
	if d.dials() != 1 {
		t.Errorf("dials = %d, want 1", d.dials())
	}
}

func TestStopDuringConnecting(t *testing.T) {
	release := make(chan struct{})
	sock := newFakeSocket()
	d := &blockingDialer{release: release, sock: sock}
	m, _ := newTestManager(d, nil)

	m.Start()
	waitState(t, m, status.Connecting)
	m.Stop()
	close(release)

	waitFor(t, "late socket closed", func() bool {
		sock.mu.Lock()
		defer sock.mu.Unlock()
		return sock.closes == 1
	})
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

func TestRestartAfterStop(t *testing.T) {
	d := &fakeDialer{}
	d.push(newFakeSocket(), nil)
	d.push(newFakeSocket(), nil)
	m, _ := newTestManager(d, nil)
	defer m.Stop()

	m.Start()
	waitState(t, m, status.Open)
	m.Stop()
	m.Start()
	waitState(t, m, status.Open)

	if d.dials() != 2 {
		t.Errorf("dials = %d, want 2", d.dials())
	}
}

// blockingDialer waits for release, ignoring cancellation, to simulate a dial
// that completes after the manager was stopped.
type blockingDialer struct {
	release chan struct{}
	sock    *fakeSocket
}

func (d *blockingDialer) Dial(context.Context) (Socket, error) {
	<-d.release
	return d.sock, nil
}
