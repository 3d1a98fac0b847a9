// Package dom is an in-memory page host backed by an HTML snapshot. It
// models the parts of a browser document the interception engine needs:
// selector queries, visibility, form controls, rich-text regions and
// synchronously dispatched user events.
package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/raaihank/promptguard/internal/page"
	"golang.org/x/net/html"
)

// Activation records a native default action that was not prevented
type Activation struct {
	Kind string // key, click or submit
	Node *Element
}

// Document is a parsed HTML page
type Document struct {
	mu          sync.Mutex
	url         string
	root        *html.Node
	elements    map[*html.Node]*Element
	focused     *Element
	activations []Activation

	mutations page.Listeners[func()]
	keys      page.Listeners[func(*page.KeyEvent)]
	clicks    page.Listeners[func(*page.ClickEvent)]
	pastes    page.Listeners[func(*page.PasteEvent)]
	copies    page.Listeners[func(*page.CopyEvent)]
	submits   page.Listeners[func(*page.SubmitEvent)]
	navs      page.Listeners[func(string)]
}

var _ page.Document = (*Document)(nil)

// Parse builds a document from HTML
func Parse(url string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{
		url:      url,
		root:     root,
		elements: make(map[*html.Node]*Element),
	}, nil
}

// MustParse is Parse for literal markup in tests and fixtures
func MustParse(url, markup string) *Document {
	doc, err := Parse(url, strings.NewReader(markup))
	if err != nil {
		panic(err)
	}
	return doc
}

// URL returns the current page URL
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// QueryAll returns elements matching a CSS selector in document order. An
// invalid selector matches nothing.
func (d *Document) QueryAll(selector string) []page.Node {
	return d.queryAll(d.root, selector)
}

// Find returns the first element matching selector, or nil
func (d *Document) Find(selector string) *Element {
	nodes := d.QueryAll(selector)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0].(*Element)
}

func (d *Document) queryAll(from *html.Node, selector string) []page.Node {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}

	d.mu.Lock()
	matches := cascadia.QueryAll(from, sel)
	out := make([]page.Node, 0, len(matches))
	for _, n := range matches {
		out = append(out, d.wrapLocked(n))
	}
	d.mu.Unlock()
	return out
}

func (d *Document) wrapLocked(n *html.Node) *Element {
	if el, ok := d.elements[n]; ok {
		return el
	}
	el := newElement(d, n)
	d.elements[n] = el
	return el
}

// OnMutation subscribes to structural changes
func (d *Document) OnMutation(fn func()) func() { return d.mutations.Add(fn) }

func (d *Document) OnKeyDown(fn func(*page.KeyEvent)) func()   { return d.keys.Add(fn) }
func (d *Document) OnClick(fn func(*page.ClickEvent)) func()   { return d.clicks.Add(fn) }
func (d *Document) OnPaste(fn func(*page.PasteEvent)) func()   { return d.pastes.Add(fn) }
func (d *Document) OnCopy(fn func(*page.CopyEvent)) func()     { return d.copies.Add(fn) }
func (d *Document) OnSubmit(fn func(*page.SubmitEvent)) func() { return d.submits.Add(fn) }
func (d *Document) OnNavigate(fn func(url string)) func()      { return d.navs.Add(fn) }

// Listeners reports how many listeners of every kind are registered
func (d *Document) Listeners() int {
	return d.mutations.Len() + d.keys.Len() + d.clicks.Len() + d.pastes.Len() +
		d.copies.Len() + d.submits.Len() + d.navs.Len()
}

// Activations returns the default actions performed so far
func (d *Document) Activations() []Activation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Activation(nil), d.activations...)
}

// Focused returns the element that last received focus
func (d *Document) Focused() *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

func (d *Document) activate(kind string, el *Element) {
	d.mu.Lock()
	d.activations = append(d.activations, Activation{Kind: kind, Node: el})
	d.mu.Unlock()
}

// KeyDown delivers a user key press to target
func (d *Document) KeyDown(target *Element, key string, shift bool) *page.KeyEvent {
	ev := &page.KeyEvent{Key: key, Shift: shift, Target: target}
	d.dispatchKey(ev)
	return ev
}

func (d *Document) dispatchKey(ev *page.KeyEvent) {
	for _, fn := range d.keys.Snapshot() {
		fn(ev)
	}
	if !ev.DefaultPrevented() && ev.IsSubmit() {
		el, _ := ev.Target.(*Element)
		d.activate("key", el)
	}
}

// ClickOn delivers a user click to target
func (d *Document) ClickOn(target *Element) *page.ClickEvent {
	ev := &page.ClickEvent{Target: target}
	for _, fn := range d.clicks.Snapshot() {
		fn(ev)
	}
	if !ev.DefaultPrevented() {
		d.activate("click", target)
		if form := target.submitForm(); form != nil {
			form.Submit()
		}
	}
	return ev
}

// Paste delivers a clipboard paste into target. An unprevented paste
// inserts the text at the caret of the editable root.
func (d *Document) Paste(target *Element, text string) *page.PasteEvent {
	ev := &page.PasteEvent{Target: target, Text: text}
	for _, fn := range d.pastes.Snapshot() {
		fn(ev)
	}
	if !ev.DefaultPrevented() && target != nil {
		target.insertAtRoot(text)
	}
	return ev
}

// Copy delivers a copy of selection
func (d *Document) Copy(selection string) *page.CopyEvent {
	ev := &page.CopyEvent{Selection: selection}
	for _, fn := range d.copies.Snapshot() {
		fn(ev)
	}
	return ev
}

func (d *Document) dispatchSubmit(form *Element) *page.SubmitEvent {
	ev := &page.SubmitEvent{Form: form}
	for _, fn := range d.submits.Snapshot() {
		fn(ev)
	}
	if !ev.DefaultPrevented() {
		d.activate("submit", form)
	}
	return ev
}

// Navigate changes the page URL and notifies navigation listeners
func (d *Document) Navigate(url string) {
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	for _, fn := range d.navs.Snapshot() {
		fn(url)
	}
}

// Replace swaps the first element matching selector for the given markup
// and reports a structural mutation, the way a framework re-renders an
// editor
func (d *Document) Replace(selector, markup string) error {
	target := d.Find(selector)
	if target == nil {
		return fmt.Errorf("no element matches %q", selector)
	}

	d.mu.Lock()
	parent := target.n.Parent
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.InsertBefore(n, target.n)
	}
	parent.RemoveChild(target.n)
	delete(d.elements, target.n)
	d.mu.Unlock()

	d.notifyMutation(nil)
	return nil
}

// notifyMutation reports a content change of el (nil for a document-level
// change) to change subscribers of el and its ancestors, then to
// document mutation subscribers
func (d *Document) notifyMutation(el *Element) {
	for n := el; n != nil; n = n.parentElement() {
		for _, fn := range n.changes.Snapshot() {
			fn()
		}
	}
	for _, fn := range d.mutations.Snapshot() {
		fn()
	}
}
