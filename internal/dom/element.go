package dom

import (
	"strings"

	"github.com/raaihank/promptguard/internal/page"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is one HTML element. It offers every capability in package page;
// callers pick the one that fits the element's tag.
type Element struct {
	doc *Document
	n   *html.Node

	value    string
	selStart int
	selEnd   int
	hasSel   bool

	acceptInsert      bool
	acceptBeforeInput bool

	changes page.Listeners[func()]
}

var (
	_ page.ValueField   = (*Element)(nil)
	_ page.RichEditable = (*Element)(nil)
	_ page.Activator    = (*Element)(nil)
	_ page.KeyTarget    = (*Element)(nil)
	_ page.Form         = (*Element)(nil)
)

func newElement(d *Document, n *html.Node) *Element {
	el := &Element{doc: d, n: n, acceptInsert: true, acceptBeforeInput: true}
	switch n.Data {
	case "input":
		el.value = attr(n, "value")
	case "textarea":
		el.value = textContent(n)
	}
	return el
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func (e *Element) Tag() string { return e.n.Data }

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.n, name), hasAttr(e.n, name)
}

// SetAttr sets an attribute, reporting a structural mutation
func (e *Element) SetAttr(name, value string) {
	e.doc.mu.Lock()
	found := false
	for i, a := range e.n.Attr {
		if a.Key == name {
			e.n.Attr[i].Val = value
			found = true
		}
	}
	if !found {
		e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
	}
	e.doc.mu.Unlock()
	e.doc.notifyMutation(e)
}

func (e *Element) parentElement() *Element {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrapLocked(p)
}

func (e *Element) Parent() page.Node {
	if p := e.parentElement(); p != nil {
		return p
	}
	return nil
}

// Visible applies the checks a layout engine would make from markup alone:
// hidden attribute, inline display and visibility, and hidden inputs
func (e *Element) Visible() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	if e.n.Data == "input" && strings.EqualFold(attr(e.n, "type"), "hidden") {
		return false
	}
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if hasAttr(n, "hidden") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func (e *Element) QueryAll(selector string) []page.Node {
	return e.doc.queryAll(e.n, selector)
}

func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.isControl() {
		return e.value
	}
	return textContent(e.n)
}

func (e *Element) isControl() bool {
	return e.n.Data == "input" || e.n.Data == "textarea"
}

func (e *Element) Focus() {
	e.doc.mu.Lock()
	e.doc.focused = e
	e.doc.mu.Unlock()
}

func (e *Element) Same(other page.Node) bool {
	o, ok := other.(*Element)
	return ok && o != nil && o.n == e.n
}

func (e *Element) OnChange(fn func()) func() { return e.changes.Add(fn) }

func (e *Element) Value() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.value
}

func (e *Element) SetValue(v string) {
	e.doc.mu.Lock()
	e.value = v
	e.hasSel = false
	e.doc.mu.Unlock()
}

func (e *Element) Selection() (int, int, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.selStart, e.selEnd, e.hasSel
}

func (e *Element) SetSelection(start, end int) {
	e.doc.mu.Lock()
	e.selStart, e.selEnd, e.hasSel = start, end, true
	e.doc.mu.Unlock()
}

// DispatchInput fires the input signal, which bubbles to ancestors
func (e *Element) DispatchInput() {
	for n := e; n != nil; n = n.parentElement() {
		for _, fn := range n.changes.Snapshot() {
			fn()
		}
	}
}

// SetEditorBehavior makes a rich region refuse native inserts or
// structured beforeinput signals, like editors that ignore execCommand
func (e *Element) SetEditorBehavior(acceptInsert, acceptBeforeInput bool) {
	e.doc.mu.Lock()
	e.acceptInsert, e.acceptBeforeInput = acceptInsert, acceptBeforeInput
	e.doc.mu.Unlock()
}

func (e *Element) InsertText(text string, mode page.Mode) bool {
	e.doc.mu.Lock()
	ok := e.acceptInsert
	e.doc.mu.Unlock()
	if !ok {
		return false
	}
	e.writeParagraphs(text, mode)
	return true
}

func (e *Element) DispatchBeforeInput(inputType, data string) bool {
	e.doc.mu.Lock()
	ok := e.acceptBeforeInput
	e.doc.mu.Unlock()
	if !ok {
		return false
	}

	mode := page.ModeReplace
	if inputType == "insertFromPaste" || inputType == "insertText" {
		mode = page.ModeAppend
	}
	e.writeParagraphs(data, mode)
	return true
}

// writeParagraphs renders text as one paragraph per line
func (e *Element) writeParagraphs(text string, mode page.Mode) {
	e.doc.mu.Lock()
	lines := strings.Split(text, "\n")

	if mode == page.ModeReplace {
		for c := e.n.FirstChild; c != nil; {
			next := c.NextSibling
			e.n.RemoveChild(c)
			c = next
		}
		for _, line := range lines {
			e.n.AppendChild(paragraph(line))
		}
	} else {
		last := e.n.LastChild
		if last == nil || last.Type != html.ElementNode || last.Data != "p" {
			last = paragraph("")
			e.n.AppendChild(last)
		}
		last.AppendChild(&html.Node{Type: html.TextNode, Data: lines[0]})
		for _, line := range lines[1:] {
			e.n.AppendChild(paragraph(line))
		}
	}
	e.doc.mu.Unlock()

	e.doc.notifyMutation(e)
}

func paragraph(text string) *html.Node {
	p := &html.Node{Type: html.ElementNode, Data: "p", DataAtom: atom.P}
	if text != "" {
		p.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return p
}

// Type simulates the user typing text at the end of the element
func (e *Element) Type(text string) {
	if e.isControl() {
		e.doc.mu.Lock()
		e.value += text
		n := len([]rune(e.value))
		e.selStart, e.selEnd, e.hasSel = n, n, true
		e.doc.mu.Unlock()
		e.DispatchInput()
		return
	}
	e.writeParagraphs(text, page.ModeAppend)
}

// insertAtRoot performs a native paste into the editable root of e
func (e *Element) insertAtRoot(text string) {
	for n := e; n != nil; n = n.parentElement() {
		if n.isControl() {
			n.Type(text)
			return
		}
		if v, ok := n.Attr("contenteditable"); ok && v == "true" {
			n.writeParagraphs(text, page.ModeAppend)
			return
		}
	}
}

// Click activates the element through the normal event path
func (e *Element) Click() {
	e.doc.ClickOn(e)
}

// DispatchKey delivers a synthetic key press to the element
func (e *Element) DispatchKey(ev page.KeyEvent) {
	if ev.Target == nil {
		ev.Target = e
	}
	e.doc.dispatchKey(&ev)
}

// Fields returns the named, successful controls of a form
func (e *Element) Fields() []page.ValueField {
	var fields []page.ValueField
	for _, n := range e.QueryAll("input[name], textarea[name]") {
		el := n.(*Element)
		typ, _ := el.Attr("type")
		switch strings.ToLower(typ) {
		case "submit", "button", "reset", "file", "image":
			continue
		}
		if _, disabled := el.Attr("disabled"); disabled {
			continue
		}
		fields = append(fields, el)
	}
	return fields
}

// Submit submits the form through the normal event path
func (e *Element) Submit() {
	e.doc.dispatchSubmit(e)
}

func (e *Element) submitForm() *Element {
	typ, _ := e.Attr("type")
	typ = strings.ToLower(typ)
	isSubmit := (e.n.Data == "button" && (typ == "" || typ == "submit")) ||
		(e.n.Data == "input" && typ == "submit")
	if !isSubmit {
		return nil
	}
	for n := e.parentElement(); n != nil; n = n.parentElement() {
		if n.n.Data == "form" {
			return n
		}
	}
	return nil
}
