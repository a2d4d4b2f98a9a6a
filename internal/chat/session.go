// Package chat ties the connection, the message log and the media cache into
// one chat room session for the signed-in user.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/conn"
	"github.com/matheus3301/albumchat/internal/media"
	"github.com/matheus3301/albumchat/internal/message"
	"github.com/matheus3301/albumchat/internal/status"
	"go.uber.org/zap"
)

var (
	// ErrEmptyMessage is returned by Send for a draft with no text and no media.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned once the session has been deactivated.
	ErrClosed = errors.New("chat session closed")
)

// Identity is the signed-in user as shown to other participants.
type Identity struct {
	DisplayName string
	SenderID    string
}

// Connection is the socket side of a session. *conn.Manager implements it.
type Connection interface {
	Start()
	Stop()
	Send(payload []byte) error
	Events() <-chan conn.Event
	State() status.State
}

// HistoryFetcher returns the persisted room history.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context) ([]message.Message, error)
}

// Uploader stores a media file and returns its opaque id.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Queue writes frames in order, holding them while the socket is down or
// while older frames are still waiting. *outbox.Sender implements it.
type Queue interface {
	Deliver(clientMsgID string, payload []byte) (queued bool, err error)
}

// Deps are the collaborators of a Session. Uploader and Outbox are optional.
type Deps struct {
	Identity Identity
	Conn     Connection
	History  HistoryFetcher
	Uploader Uploader
	Resolver *media.Resolver
	Outbox   Queue
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Draft is what the user typed or attached.
type Draft struct {
	Text     string
	ImageRef string
	VideoRef string
}

// Session is one activation of the chat room.
type Session struct {
	identity Identity
	conn     Connection
	history  HistoryFetcher
	uploader Uploader
	resolver *media.Resolver
	outbox   Queue
	bus      *bus.Bus
	logger   *zap.Logger
	store    *message.Store

	mu     sync.Mutex
	sent   map[string]struct{}
	active bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates an inactive session.
func NewSession(d Deps) *Session {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		identity: d.Identity,
		conn:     d.Conn,
		history:  d.History,
		uploader: d.Uploader,
		resolver: d.Resolver,
		outbox:   d.Outbox,
		bus:      d.Bus,
		logger:   logger,
		store:    message.NewStore(),
		sent:     make(map[string]struct{}),
	}
}

// Activate opens the connection, loads the room history and starts consuming
// live frames. History is loaded before the first live frame is applied.
// Calling Activate on an active session is a no-op.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("activating chat session",
		zap.String("sender_id", s.identity.SenderID),
		zap.String("display_name", s.identity.DisplayName),
	)
	s.conn.Start()
	s.loadHistory(ctx)

	go func() {
		defer close(s.done)
		s.loop(loopCtx)
	}()
	return nil
}

func (s *Session) loadHistory(ctx context.Context) {
	if s.history == nil {
		return
	}
	msgs, err := s.history.FetchHistory(ctx)
	if s.isClosed() {
		return
	}
	if err != nil {
		s.logger.Warn("history fetch failed", zap.Error(err))
		s.bus.Emit(bus.KindHistoryFailed, err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.store.LoadHistory(msgs)
	s.mu.Unlock()
	s.logger.Info("history loaded", zap.Int("count", len(msgs)))
	s.bus.Emit(bus.KindHistoryLoaded, len(msgs))
}

func (s *Session) loop(ctx context.Context) {
	events := s.conn.Events()
	for {
		select {
		case evt := <-events:
			s.handleEvent(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleEvent(evt conn.Event) {
	switch evt.Type {
	case conn.EventOpen:
		s.logger.Info("chat connection open")
	case conn.EventClosed:
		s.logger.Info("chat connection closed", zap.Error(evt.Err))
	case conn.EventMessage:
		s.receive(evt.Frame)
	}
}

func (s *Session) receive(frame []byte) {
	m, err := message.Decode(frame)
	if err != nil {
		s.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	if m.Kind == message.KindSystem {
		s.logger.Debug("dropping system frame", zap.String("text", m.Text))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.sent[m.ID]; ok {
		delete(s.sent, m.ID)
		s.mu.Unlock()
		return
	}
	s.store.Append(m)
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageAdded, m)
}

// Send posts a message as the current identity. The message is appended to
// the local log whether or not the socket accepted it; with an outbox the
// frame is written through it so queued frames keep their order, without
// one a frame the socket refuses is dropped.
func (s *Session) Send(ctx context.Context, d Draft) (message.Message, error) {
	m := message.Message{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(d.Text),
		ImageRef:   d.ImageRef,
		VideoRef:   d.VideoRef,
		SenderName: s.identity.DisplayName,
		SenderID:   s.identity.SenderID,
		Kind:       message.KindUser,
	}
	if !m.HasContent() {
		return message.Message{}, ErrEmptyMessage
	}
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}
	payload, err := message.Encode(m)
	if err != nil {
		return message.Message{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return message.Message{}, ErrClosed
	}
	s.sent[m.ID] = struct{}{}
	s.mu.Unlock()

	if s.outbox != nil {
		queued, err := s.outbox.Deliver(m.ID, payload)
		switch {
		case err != nil:
			s.logger.Warn("message not delivered", zap.String("id", m.ID), zap.Error(err))
		case queued:
			s.bus.Emit(bus.KindMessageQueued, m)
		}
	} else if err := s.conn.Send(payload); err != nil {
		s.logger.Warn("message not delivered", zap.String("id", m.ID), zap.Error(err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return message.Message{}, ErrClosed
	}
	s.store.Append(m)
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageAdded, m)
	return m, nil
}

// SendMedia uploads an attachment, registers a local preview for it and
// sends a message referencing the new media id.
func (s *Session) SendMedia(ctx context.Context, name string, data []byte, contentType, text string) (message.Message, error) {
	if s.uploader == nil {
		return message.Message{}, errors.New("uploads are not configured")
	}
	if s.isClosed() {
		return message.Message{}, ErrClosed
	}

	id, err := s.uploader.Upload(ctx, name, bytes.NewReader(data))
	if err != nil {
		return message.Message{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if s.resolver != nil {
		if _, err := s.resolver.Preview(id, data, contentType); err != nil {
			s.logger.Warn("preview not stored", zap.String("media_id", id), zap.Error(err))
		}
	}

	d := Draft{Text: text}
	if strings.HasPrefix(contentType, "video/") {
		d.VideoRef = id
	} else {
		d.ImageRef = id
	}
	return s.Send(ctx, d)
}

// Messages returns a chronological view of the message log.
func (s *Session) Messages() iter.Seq[message.Message] {
	return s.store.All()
}

// Len returns the number of messages in the log.
func (s *Session) Len() int {
	return s.store.Len()
}

// Identity returns the identity messages are sent under.
func (s *Session) Identity() Identity {
	return s.identity
}

// State returns the connection state.
func (s *Session) State() status.State {
	return s.conn.State()
}

// Media returns the session's media resolver, or nil.
func (s *Session) Media() *media.Resolver {
	return s.resolver
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Deactivate stops the connection, drops cached media and clears the log.
// Results that arrive afterwards are ignored. Safe to call more than once.
func (s *Session) Deactivate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.conn.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	if s.resolver != nil {
		if err := s.resolver.Close(); err != nil {
			s.logger.Warn("media cleanup failed", zap.Error(err))
		}
	}
	s.mu.Lock()
	s.store.Clear()
	s.mu.Unlock()
	s.logger.Info("chat session deactivated")
	s.bus.Emit(bus.KindSessionStopped, nil)
}
