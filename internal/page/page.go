// Package page is the host abstraction the interception engine runs
// against: a document of nodes, the capabilities an editable node may
// offer, and the user events a host delivers.
package page

// Mode selects how text is written into an input surface
type Mode int

const (
	// ModeReplace overwrites the whole content
	ModeReplace Mode = iota
	// ModeAppend inserts at the caret, or at the end when there is none
	ModeAppend
)

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "replace"
}

// Document is one loaded page
type Document interface {
	URL() string
	QueryAll(selector string) []Node
	// OnMutation subscribes to structural changes anywhere in the document
	OnMutation(fn func()) (cancel func())
	Events
}

// Events lets channels observe user actions. Listeners run synchronously
// in registration order and may call PreventDefault on the event.
type Events interface {
	OnKeyDown(fn func(*KeyEvent)) (cancel func())
	OnClick(fn func(*ClickEvent)) (cancel func())
	OnPaste(fn func(*PasteEvent)) (cancel func())
	OnCopy(fn func(*CopyEvent)) (cancel func())
	OnSubmit(fn func(*SubmitEvent)) (cancel func())
	OnNavigate(fn func(url string)) (cancel func())
}

// Node is an element in a Document
type Node interface {
	Tag() string
	Attr(name string) (string, bool)
	Parent() Node
	// Visible reports whether the element is rendered for the user
	Visible() bool
	QueryAll(selector string) []Node
	// Text is the rendered text content of the element and its descendants
	Text() string
	Focus()
	Same(other Node) bool
	// OnChange multiplexes direct edit signals and content mutations of
	// this node into one notification
	OnChange(fn func()) (cancel func())
}

// ValueField is a plain form control holding a string value
type ValueField interface {
	Node
	Value() string
	SetValue(v string)
	// Selection returns the caret or selection range as rune offsets into
	// Value, ok is false when the field has no caret
	Selection() (start, end int, ok bool)
	// SetSelection takes rune offsets into Value
	SetSelection(start, end int)
	// DispatchInput notifies the page that the value changed
	DispatchInput()
}

// RichEditable is a structured rich-text region
type RichEditable interface {
	Node
	// InsertText routes text through the editor's native edit pipeline and
	// reports whether the editor accepted it
	InsertText(text string, mode Mode) bool
	// DispatchBeforeInput delivers a structured beforeinput signal and
	// reports whether the editor handled it
	DispatchBeforeInput(inputType, data string) bool
}

// Activator can be clicked, like a submit button
type Activator interface {
	Node
	Click()
}

// KeyTarget can receive synthetic key presses
type KeyTarget interface {
	Node
	DispatchKey(ev KeyEvent)
}

// Form is a submittable form
type Form interface {
	Node
	Fields() []ValueField
	// Submit submits the form through the normal event path
	Submit()
}
