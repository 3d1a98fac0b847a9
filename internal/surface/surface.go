// Package surface locates, reads and writes the editable region a user is
// typing a prompt into.
package surface

import (
	"errors"
	"strings"

	"github.com/raaihank/promptguard/internal/page"
)

// ErrWriteRejected is returned when an editor refuses both the native edit
// pipeline and the structured input fallback. The text is left unchanged.
var ErrWriteRejected = errors.New("editor rejected write")

// Kind tags the editor family behind a Handle
type Kind int

const (
	KindPlain Kind = iota
	KindRich
)

func (k Kind) String() string {
	if k == KindRich {
		return "rich"
	}
	return "plain"
}

// Descriptor lists input selectors in priority order
type Descriptor struct {
	InputSelectors []string
}

// Handle is a bound input surface
type Handle interface {
	Kind() Kind
	Node() page.Node
	Read() string
	Write(text string, mode page.Mode) error
}

// Locate returns the first visible editable node matching the descriptor.
// Selectors are tried in order and candidates within a selector in
// document order, so hidden decoys sharing a selector are skipped. A nil
// Handle means there is nothing to scan.
func Locate(doc page.Document, desc Descriptor) Handle {
	if doc == nil {
		return nil
	}
	for _, selector := range desc.InputSelectors {
		for _, node := range doc.QueryAll(selector) {
			if !node.Visible() {
				continue
			}
			if h := Bind(node); h != nil {
				return h
			}
		}
	}
	return nil
}

// Bind wraps node in the Handle variant matching its editor family, or
// returns nil when the node is not editable
func Bind(node page.Node) Handle {
	if node == nil {
		return nil
	}

	if isContentEditable(node) {
		if rich, ok := node.(page.RichEditable); ok {
			return &richHandle{node: rich}
		}
	}

	switch node.Tag() {
	case "textarea", "input":
		if field, ok := node.(page.ValueField); ok {
			return &plainHandle{field: field}
		}
	}

	return nil
}

// EditableRoot walks up from node to the nearest contenteditable element
// or form control, returning nil when there is none
func EditableRoot(node page.Node) page.Node {
	for n := node; n != nil; n = n.Parent() {
		if n.Tag() == "body" {
			return nil
		}
		if v, ok := n.Attr("contenteditable"); ok && v == "true" {
			return n
		}
		if n.Tag() == "textarea" || n.Tag() == "input" {
			return n
		}
	}
	return nil
}

func isContentEditable(node page.Node) bool {
	v, ok := node.Attr("contenteditable")
	return ok && v != "false"
}

type plainHandle struct {
	field page.ValueField
}

func (h *plainHandle) Kind() Kind      { return KindPlain }
func (h *plainHandle) Node() page.Node { return h.field }

func (h *plainHandle) Read() string {
	return strings.TrimSpace(h.field.Value())
}

func (h *plainHandle) Write(text string, mode page.Mode) error {
	if mode == page.ModeReplace {
		h.field.SetValue(text)
		n := len([]rune(text))
		h.field.SetSelection(n, n)
	} else {
		current := []rune(h.field.Value())
		pos, _, ok := h.field.Selection()
		if !ok || pos <= 0 || pos > len(current) {
			pos = len(current)
		}
		inserted := []rune(text)
		next := make([]rune, 0, len(current)+len(inserted))
		next = append(next, current[:pos]...)
		next = append(next, inserted...)
		next = append(next, current[pos:]...)
		h.field.SetValue(string(next))
		h.field.SetSelection(pos+len(inserted), pos+len(inserted))
	}
	h.field.DispatchInput()
	return nil
}

type richHandle struct {
	node page.RichEditable
}

func (h *richHandle) Kind() Kind      { return KindRich }
func (h *richHandle) Node() page.Node { return h.node }

// Read joins block paragraphs with newlines, falling back to the whole
// text when the editor has no paragraphs
func (h *richHandle) Read() string {
	paragraphs := h.node.QueryAll("p")
	if len(paragraphs) == 0 {
		return strings.TrimSpace(h.node.Text())
	}

	lines := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		lines = append(lines, p.Text())
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (h *richHandle) Write(text string, mode page.Mode) error {
	h.node.Focus()
	if h.node.InsertText(text, mode) {
		return nil
	}

	inputType := "insertReplacementText"
	if mode == page.ModeAppend {
		inputType = "insertFromPaste"
	}
	if h.node.DispatchBeforeInput(inputType, text) {
		return nil
	}
	return ErrWriteRejected
}
