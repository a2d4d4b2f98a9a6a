package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/conn"
	"github.com/matheus3301/albumchat/internal/status"
	"github.com/matheus3301/albumchat/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 3
)

// FrameSender writes one encoded frame to the chat connection.
type FrameSender interface {
	Send(payload []byte) error
}

// Flushed is the payload of bus.KindOutboxFlushed.
type Flushed struct {
	Sent      int
	Remaining int
}

// Sender persists frames written while the connection is down and replays
// them, oldest first, once it is open again.
type Sender struct {
	db          *store.DB
	sender      FrameSender
	bus         *bus.Bus
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int

	flushMu sync.Mutex
	kick    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender FrameSender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:          db,
		sender:      sender,
		bus:         b,
		logger:      logger,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		kick:        make(chan struct{}, 1),
	}
}

// Enqueue stores an encoded frame for later delivery.
func (s *Sender) Enqueue(clientMsgID string, payload []byte) error {
	if err := s.db.QueueOutbox(clientMsgID, payload); err != nil {
		return err
	}
	s.logger.Info("frame queued", zap.String("client_msg_id", clientMsgID))
	return nil
}

// Deliver writes a frame now, or queues it behind older frames. A frame is
// queued when the connection is not open or when earlier frames are still
// waiting, so frames always leave in the order they were handed over.
func (s *Sender) Deliver(clientMsgID string, payload []byte) (queued bool, err error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	waiting, err := s.db.CountOutbox(store.StatusQueued)
	if err != nil {
		return false, err
	}
	if waiting == 0 {
		err := s.sender.Send(payload)
		if !errors.Is(err, conn.ErrNotOpen) {
			return false, err
		}
	}
	if err := s.Enqueue(clientMsgID, payload); err != nil {
		return false, err
	}
	if waiting > 0 {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return true, nil
}

// Start flushes whenever the connection reports OPEN, and on a slow ticker
// as a fallback.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	events, unsub := s.bus.Subscribe("conn.", 16)
	go func() {
		defer close(s.done)
		defer unsub()
		s.loop(ctx, events)
	}()
}

// Stop stops the sender loop and waits for an in-flight flush.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Sender) loop(ctx context.Context, events <-chan bus.Event) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-events:
			if change, ok := evt.Payload.(status.StatusChange); ok && change.To == status.Open {
				s.Flush()
			}
		case <-s.kick:
			s.Flush()
		case <-ticker.C:
			s.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Flush sends queued frames in order. It stops at the first failure so later
// frames never overtake earlier ones; a frame that keeps failing is marked
// failed after maxAttempts. Returns the number of frames sent.
func (s *Sender) Flush() int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	sent := 0
	for _, entry := range pending {
		err := s.sender.Send(entry.Payload)
		if errors.Is(err, conn.ErrNotOpen) {
			break
		}
		if err != nil {
			s.recordFailure(entry, err)
			break
		}
		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("outbox flushed", zap.Int("sent", sent), zap.Int("remaining", len(pending)-sent))
		s.bus.Emit(bus.KindOutboxFlushed, Flushed{Sent: sent, Remaining: len(pending) - sent})
	}
	return sent
}

func (s *Sender) recordFailure(entry store.OutboxEntry, sendErr error) {
	attempts, err := s.db.RecordOutboxAttempt(entry.ClientMsgID, sendErr.Error())
	if err != nil {
		s.logger.Error("failed to record attempt", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}
	s.logger.Warn("outbox send failed",
		zap.Error(sendErr),
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.Int("attempts", attempts),
	)
	if attempts >= s.maxAttempts {
		if err := s.db.MarkOutboxFailed(entry.ClientMsgID, sendErr.Error()); err != nil {
			s.logger.Error("failed to mark failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
	}
}
