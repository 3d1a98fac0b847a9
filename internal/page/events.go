package page

// Base carries the default-action state shared by every event
type Base struct {
	prevented bool
}

// PreventDefault suspends the event's native action
func (b *Base) PreventDefault() { b.prevented = true }

// DefaultPrevented reports whether a listener suspended the native action
func (b *Base) DefaultPrevented() bool { return b.prevented }

// KeyEvent is a key press
type KeyEvent struct {
	Base
	Key       string
	Shift     bool
	Alt       bool
	Ctrl      bool
	Meta      bool
	Composing bool
	Target    Node
}

// IsSubmit reports whether the key press would send a chat prompt
func (e *KeyEvent) IsSubmit() bool {
	return e.Key == "Enter" && !e.Shift && !e.Composing
}

// ClickEvent is a primary-button click
type ClickEvent struct {
	Base
	Target Node
}

// PasteEvent is a clipboard paste into the page
type PasteEvent struct {
	Base
	Target Node
	Text   string
}

// CopyEvent is a copy of the current selection
type CopyEvent struct {
	Base
	Selection string
}

// SubmitEvent is a form submission
type SubmitEvent struct {
	Base
	Form Form
}

// Contains reports whether node is ancestor itself or one of its descendants
func Contains(ancestor, node Node) bool {
	for n := node; n != nil; n = n.Parent() {
		if n.Same(ancestor) {
			return true
		}
	}
	return false
}
