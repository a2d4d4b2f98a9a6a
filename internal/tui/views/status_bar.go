package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// stateColors maps connection states to status bar colors.
var stateColors = map[string]string{
	"OPEN":         "green",
	"CONNECTING":   "yellow",
	"RECONNECTING": "yellow",
	"GIVEN_UP":     "red",
	"DISCONNECTED": "gray",
}

// StatusBar displays the profile, user and connection state.
type StatusBar struct {
	*tview.TextView
	profile string
	user    string
	state   string
	queued  int
	flash   string
	isErr   bool
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile and user display.
func (sb *StatusBar) SetProfile(profile, user string) {
	sb.profile = profile
	sb.user = user
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetQueued updates the count of messages waiting for the connection.
func (sb *StatusBar) SetQueued(n int) {
	sb.queued = n
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash = msg
	sb.isErr = isErr
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line(time.Now()))
}

func (sb *StatusBar) line(now time.Time) string {
	color, ok := stateColors[sb.state]
	if !ok {
		color = "white"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] %s | [%s]%s[-]", sb.profile, sb.user, color, sb.state)
	if sb.queued > 0 {
		line += fmt.Sprintf(" | %d queued", sb.queued)
	}
	line += " | " + now.Format("15:04")
	if sb.flash != "" {
		flashColor := "yellow"
		if sb.isErr {
			flashColor = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", flashColor, tview.Escape(sb.flash))
	}
	return line
}
