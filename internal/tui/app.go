package tui

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/chat"
	"github.com/matheus3301/albumchat/internal/media"
	"github.com/matheus3301/albumchat/internal/message"
	"github.com/matheus3301/albumchat/internal/outbox"
	"github.com/matheus3301/albumchat/internal/tui/keys"
	"github.com/matheus3301/albumchat/internal/tui/model"
	"github.com/matheus3301/albumchat/internal/tui/ui"
	"github.com/matheus3301/albumchat/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// maxAttachment caps files sent with /image and /video.
const maxAttachment = 50 << 20

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	session   *chat.Session
	bus       *bus.Bus
	logger    *zap.Logger
	registry  *keys.Registry
	flash     model.Flash
	statusBar *views.StatusBar
	msgView   *views.MessageView
	composer  *views.Composer
	queued    int
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application over an active chat session.
func NewApp(sess *chat.Session, b *bus.Bus, profileName string, logger *zap.Logger) *App {
	ui.DefaultTheme().Apply()
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		session:   sess,
		bus:       b,
		logger:    logger,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	id := sess.Identity()
	a.statusBar.SetProfile(profileName, id.DisplayName)
	a.statusBar.SetState(string(sess.State()))
	a.msgView.SetSelf(id.SenderID)
	a.setupBindings()
	a.setupLayout()
	a.composer.SetOnSend(a.submit)

	return a
}

func (a *App) setupBindings() {
	a.registry.Add(&keys.Action{
		Name: "quit", Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.Add(&keys.Action{
		Name: "compose", Rune: 'i', Key: tcell.KeyRune,
		Description: "i:write", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.Add(&keys.Action{
		Name: "scroll", Key: tcell.KeyEscape,
		Description: "esc:scroll", Visible: true,
		Handler: func() { a.app.SetFocus(a.msgView) },
	})
	a.registry.InputSafe("scroll")
}

func (a *App) setupLayout() {
	a.msgView.SetTitle(" Chat  " + strings.Join(a.registry.Hints(), "  ") + " ")

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true).SetFocus(a.composer.InputField)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		var typing bool
		switch a.app.GetFocus().(type) {
		case *tview.InputField, *views.Composer:
			typing = true
		}
		if a.registry.HandleEvent(event, typing) {
			return nil
		}
		return event
	})
}

func (a *App) submit(text string) {
	cmd, isCmd := ParseCommand(text)
	if !isCmd {
		go a.send(chat.Draft{Text: text})
		return
	}
	switch cmd.Name {
	case "image", "video":
		if cmd.Args == "" {
			a.setFlash(fmt.Sprintf("usage: /%s <path>", cmd.Name), true)
			return
		}
		go a.attach(cmd.Name, cmd.Args)
	case "quit":
		a.app.Stop()
	default:
		a.setFlash("unknown command: /"+cmd.Name, true)
	}
}

func (a *App) send(d chat.Draft) {
	if _, err := a.session.Send(a.ctx, d); err != nil {
		a.flashAsync("Send failed: "+err.Error(), true)
	}
}

func (a *App) attach(kind, path string) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		a.flashAsync("Attach failed: "+err.Error(), true)
		return
	}
	if info.Size() > maxAttachment {
		a.flashAsync(fmt.Sprintf("Attach failed: %s is larger than %d MB", filepath.Base(path), maxAttachment>>20), true)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.flashAsync("Attach failed: "+err.Error(), true)
		return
	}

	contentType := detectContentType(path, data)
	if !strings.HasPrefix(contentType, kind+"/") {
		a.flashAsync(fmt.Sprintf("%s is %s, not a %s", filepath.Base(path), contentType, kind), true)
		return
	}

	a.flashAsync("Uploading "+filepath.Base(path)+"...", false)
	if _, err := a.session.SendMedia(a.ctx, filepath.Base(path), data, contentType, ""); err != nil {
		a.flashAsync("Upload failed: "+err.Error(), true)
	}
}

func (a *App) setFlash(msg string, isErr bool) {
	if isErr {
		a.flash.Error(msg, 5*time.Second)
	} else {
		a.flash.Info(msg, 5*time.Second)
	}
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) flashAsync(msg string, isErr bool) {
	a.app.QueueUpdateDraw(func() { a.setFlash(msg, isErr) })
}

// pendingMedia returns the media ids referenced by msgs that lookup cannot
// serve yet, each once.
func pendingMedia(msgs iter.Seq[message.Message], lookup views.MediaLookup) []string {
	var ids []string
	seen := make(map[string]bool)
	for m := range msgs {
		for _, ref := range m.MediaRefs() {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			if _, ok := lookup(ref); !ok {
				ids = append(ids, ref)
			}
		}
	}
	return ids
}

// resolveMedia fetches unresolved media in the background. Each resolution
// publishes media.resolved, which redraws the view; failures are picked up
// again on the next tick.
func (a *App) resolveMedia(msgs iter.Seq[message.Message]) {
	r := a.session.Media()
	if r == nil {
		return
	}
	for _, ref := range pendingMedia(msgs, a.lookup) {
		go func() {
			if _, err := r.Resolve(a.ctx, ref); err != nil {
				a.logger.Debug("media unresolved", zap.String("media_id", ref), zap.Error(err))
			}
		}()
	}
}

func (a *App) lookup(id string) (media.Handle, bool) {
	r := a.session.Media()
	if r == nil {
		return media.Handle{}, false
	}
	if h, ok := r.Lookup(id); ok {
		return h, true
	}
	return r.LocalPreview(id)
}

func (a *App) redraw() {
	a.msgView.Update(a.session.Messages(), a.lookup)
	a.statusBar.SetState(string(a.session.State()))
	a.statusBar.SetQueued(a.queued)
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) watch() {
	events, unsub := a.bus.Subscribe("", 256)
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer unsub()
		defer ticker.Stop()
		for {
			select {
			case evt := <-events:
				a.handle(evt)
			case <-ticker.C:
				a.resolveMedia(a.session.Messages())
				a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash(a.flash.Get()) })
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageAdded:
		if m, ok := evt.Payload.(message.Message); ok {
			a.resolveMedia(slices.Values([]message.Message{m}))
		}
	case bus.KindHistoryLoaded:
		a.resolveMedia(a.session.Messages())
	case bus.KindHistoryFailed:
		a.flash.Error("Could not load history", 10*time.Second)
	case bus.KindMessageQueued:
		a.app.QueueUpdateDraw(func() { a.queued++ })
	case bus.KindOutboxFlushed:
		if f, ok := evt.Payload.(outbox.Flushed); ok {
			a.app.QueueUpdateDraw(func() { a.queued = f.Remaining })
		}
	}
	a.app.QueueUpdateDraw(a.redraw)
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	a.watch()
	a.redraw()
	a.resolveMedia(a.session.Messages())
	err := a.app.Run()
	a.cancel()
	return err
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
