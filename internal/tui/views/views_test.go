package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/albumchat/internal/media"
	"github.com/matheus3301/albumchat/internal/message"
)

func TestFormatMessage(t *testing.T) {
	lookup := func(id string) (media.Handle, bool) {
		if id == "media-1" {
			return media.Handle{MediaID: id, Path: "/tmp/media-1.png"}, true
		}
		return media.Handle{}, false
	}

	m := message.Message{
		ID:         "a",
		Text:       "look",
		ImageRef:   "media-1",
		VideoRef:   "media-2",
		SenderName: "Bo",
		SenderID:   "2",
		CreatedAt:  time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local),
	}
	got := formatMessage(m, "7", lookup)

	for _, want := range []string{"Bo", "01/05 09:00", "look", "/tmp/media-1.png", "loading media-2"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatMessage() = %q, missing %q", got, want)
		}
	}
}

func TestFormatMessageSelf(t *testing.T) {
	got := formatMessage(message.Message{Text: "hi", SenderName: "Ana", SenderID: "7"}, "7", nil)
	if !strings.HasPrefix(got, "[::b]You[-:-:-]") {
		t.Errorf("formatMessage() = %q, want sender You", got)
	}
}

func TestSanitizeForTerminal(t *testing.T) {
	in := "ok \U0001F44D\U0001F3FB done"
	if got := sanitizeForTerminal(in); got != "ok \U0001F44D done" {
		t.Errorf("sanitizeForTerminal() = %q", got)
	}
}

func TestStatusBarLine(t *testing.T) {
	sb := &StatusBar{profile: "main", user: "Ana", state: "GIVEN_UP", queued: 2}
	got := sb.line(time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC))
	for _, want := range []string{"main", "Ana", "[red]GIVEN_UP", "2 queued", "12:30"} {
		if !strings.Contains(got, want) {
			t.Errorf("line() = %q, missing %q", got, want)
		}
	}
}
