// Package message holds the chat message model, its JSON wire form and the
// in-memory message log shown to the user.
package message

import (
	"errors"
	"strings"
	"time"
)

// Kind distinguishes user chat content from connection housekeeping frames.
type Kind string

const (
	KindUser   Kind = "msg"
	KindSystem Kind = "SYSTEM"
)

// ErrNoContent is returned by Validate for a user message without text or media.
var ErrNoContent = errors.New("message has no text or media")

// Message is one chat message.
type Message struct {
	ID         string
	Text       string
	ImageRef   string // opaque media id
	VideoRef   string // opaque media id
	SenderName string
	SenderID   string
	Kind       Kind
	CreatedAt  time.Time // zero for frames received live
}

// HasContent reports whether the message carries text or a media reference.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.ImageRef != "" || m.VideoRef != ""
}

// MediaRefs returns the media ids referenced by the message.
func (m Message) MediaRefs() []string {
	var refs []string
	if m.ImageRef != "" {
		refs = append(refs, m.ImageRef)
	}
	if m.VideoRef != "" {
		refs = append(refs, m.VideoRef)
	}
	return refs
}

// Validate checks the invariants of a message before it is stored or sent.
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("message id is empty")
	}
	if m.Kind == KindUser && !m.HasContent() {
		return ErrNoContent
	}
	return nil
}
