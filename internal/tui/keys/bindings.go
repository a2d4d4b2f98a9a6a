package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings in registration order. Bindings marked
// InputSafe also fire while the composer has focus.
type Registry struct {
	actions   []*Action
	inputSafe map[string]bool
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{inputSafe: make(map[string]bool)}
}

// Add registers a binding. A later binding with the same name replaces it.
func (r *Registry) Add(a *Action) {
	for i, existing := range r.actions {
		if existing.Name == a.Name {
			r.actions[i] = a
			return
		}
	}
	r.actions = append(r.actions, a)
}

// InputSafe marks a binding as active while typing.
func (r *Registry) InputSafe(name string) {
	r.inputSafe[name] = true
}

// Hints returns visible keybinding descriptions in registration order.
func (r *Registry) Hints() []string {
	var hints []string
	for _, a := range r.actions {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the first matching action.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(ev *tcell.EventKey, typing bool) bool {
	for _, a := range r.actions {
		if typing && !r.inputSafe[a.Name] {
			continue
		}
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
