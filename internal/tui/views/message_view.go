package views

import (
	"fmt"
	"iter"
	"strings"

	"github.com/matheus3301/albumchat/internal/media"
	"github.com/matheus3301/albumchat/internal/message"
	"github.com/rivo/tview"
)

// MediaLookup returns the local file for a media id if it is available.
type MediaLookup func(mediaID string) (media.Handle, bool)

// MessageView displays the chat room.
type MessageView struct {
	*tview.TextView
	selfID string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Chat ")

	return &MessageView{TextView: tv}
}

// SetSelf sets the sender id rendered as "You".
func (mv *MessageView) SetSelf(senderID string) {
	mv.selfID = senderID
}

// Update redraws the view from a chronological message sequence.
func (mv *MessageView) Update(msgs iter.Seq[message.Message], lookup MediaLookup) {
	mv.Clear()
	for m := range msgs {
		_, _ = fmt.Fprint(mv, formatMessage(m, mv.selfID, lookup))
	}
	mv.ScrollToEnd()
}

func formatMessage(m message.Message, selfID string, lookup MediaLookup) string {
	sender := m.SenderName
	if sender == "" {
		sender = "unknown"
	}
	if selfID != "" && m.SenderID == selfID {
		sender = "You"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[::b]%s[-:-:-]", tview.Escape(sanitizeForTerminal(sender)))
	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(&b, " [::d]%s[-:-:-]", m.CreatedAt.Local().Format("02/01 15:04"))
	}
	b.WriteString("\n")
	if m.Text != "" {
		b.WriteString(tview.Escape(sanitizeForTerminal(m.Text)))
		b.WriteString("\n")
	}
	if m.ImageRef != "" {
		b.WriteString(mediaLine("image", m.ImageRef, lookup))
	}
	if m.VideoRef != "" {
		b.WriteString(mediaLine("video", m.VideoRef, lookup))
	}
	b.WriteString("\n")
	return b.String()
}

func mediaLine(kind, mediaID string, lookup MediaLookup) string {
	if lookup != nil {
		if h, ok := lookup(mediaID); ok {
			return fmt.Sprintf("[blue]%s:[-] %s\n", kind, tview.Escape(h.Path))
		}
	}
	return fmt.Sprintf("[blue]%s:[-] [::d]loading %s[-:-:-]\n", kind, tview.Escape(mediaID))
}
