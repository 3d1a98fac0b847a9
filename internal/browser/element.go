package browser

import (
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/raaihank/promptguard/internal/page"
	"go.uber.org/zap"
)

// Element is a live DOM element. Node methods cannot fail, so protocol
// errors are logged and read as empty values.
type Element struct {
	doc *Document
	el  *rod.Element

	tagOnce sync.Once
	tag     string
}

var (
	_ page.ValueField   = (*Element)(nil)
	_ page.RichEditable = (*Element)(nil)
	_ page.Activator    = (*Element)(nil)
	_ page.KeyTarget    = (*Element)(nil)
	_ page.Form         = (*Element)(nil)
)

func newElement(d *Document, el *rod.Element) *Element {
	return &Element{doc: d, el: el}
}

func wrapAll(d *Document, els rod.Elements) []page.Node {
	nodes := make([]page.Node, 0, len(els))
	for _, el := range els {
		nodes = append(nodes, newElement(d, el))
	}
	return nodes
}

func (e *Element) debug(op string, err error) {
	e.doc.logger.Debug("Element operation failed", zap.String("op", op), zap.Error(err))
}

// eval runs a function with this bound to the element
func (e *Element) eval(js string, args ...interface{}) (*proto.RuntimeRemoteObject, bool) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		e.debug(js, err)
		return nil, false
	}
	return res, true
}

func (e *Element) Tag() string {
	e.tagOnce.Do(func() {
		if res, ok := e.eval(`() => this.tagName.toLowerCase()`); ok {
			e.tag = res.Value.Str()
		}
	})
	return e.tag
}

func (e *Element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil {
		e.debug("attribute", err)
		return "", false
	}
	if v == nil {
		return "", false
	}
	return *v, true
}

// Parent returns the parent element, or nil at the root
func (e *Element) Parent() page.Node {
	p, err := e.el.Parent()
	if err != nil || p == nil {
		return nil
	}
	return newElement(e.doc, p)
}

func (e *Element) Visible() bool {
	v, err := e.el.Visible()
	if err != nil {
		e.debug("visible", err)
		return false
	}
	return v
}

func (e *Element) QueryAll(selector string) []page.Node {
	els, err := e.el.Elements(selector)
	if err != nil {
		e.debug("query", err)
		return nil
	}
	return wrapAll(e.doc, els)
}

func (e *Element) Text() string {
	if res, ok := e.eval(`() => this.innerText ?? this.textContent ?? ''`); ok {
		return res.Value.Str()
	}
	return ""
}

func (e *Element) Focus() {
	if err := e.el.Focus(); err != nil {
		e.debug("focus", err)
	}
}

func (e *Element) Same(other page.Node) bool {
	o, ok := other.(*Element)
	if !ok || o == nil {
		return false
	}
	same, err := e.el.Equal(o.el)
	return err == nil && same
}

// OnChange watches edits and content mutations of the element
func (e *Element) OnChange(fn func()) func() {
	id := e.doc.watch(fn)
	if _, ok := e.eval(`(id) => window.__pg.watch(this, id)`, id); !ok {
		e.doc.unwatch(id)
		return func() {}
	}
	return func() { e.doc.unwatch(id) }
}

func (e *Element) Value() string {
	if res, ok := e.eval(`() => this.value ?? ''`); ok {
		return res.Value.Str()
	}
	return ""
}

// SetValue goes through the prototype setter so framework-controlled
// inputs observe the change
func (e *Element) SetValue(v string) {
	e.eval(`(v) => {
		const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(this), 'value');
		if (desc && desc.set) desc.set.call(this, v); else this.value = v;
	}`, v)
}

// Selection converts the page's UTF-16 offsets to rune offsets
func (e *Element) Selection() (start, end int, ok bool) {
	res, ok := e.eval(`() => {
		try {
			if (this.selectionStart === null) return null;
			return [this.selectionStart, this.selectionEnd, this.value ?? ''];
		} catch (_) {
			return null;
		}
	}`)
	if !ok || res.Value.Nil() {
		return 0, 0, false
	}
	arr := res.Value.Arr()
	if len(arr) != 3 {
		return 0, 0, false
	}
	value := arr[2].Str()
	return runeOffset(value, arr[0].Int()), runeOffset(value, arr[1].Int()), true
}

func (e *Element) SetSelection(start, end int) {
	value := e.Value()
	e.eval(`(s, e) => { try { this.setSelectionRange(s, e); } catch (_) {} }`,
		utf16Offset(value, start), utf16Offset(value, end))
}

// runeOffset converts an offset in UTF-16 code units into a rune offset.
// An offset inside a surrogate pair rounds up to the next rune.
func runeOffset(s string, units int) int {
	runes := 0
	for _, r := range s {
		if units <= 0 {
			break
		}
		units -= utf16Len(r)
		runes++
	}
	return runes
}

// utf16Offset converts a rune offset into UTF-16 code units
func utf16Offset(s string, runes int) int {
	units := 0
	for _, r := range s {
		if runes <= 0 {
			break
		}
		units += utf16Len(r)
		runes--
	}
	return units
}

func utf16Len(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

func (e *Element) DispatchInput() {
	e.eval(`() => this.dispatchEvent(new Event('input', { bubbles: true }))`)
}

func (e *Element) InsertText(text string, mode page.Mode) bool {
	res, ok := e.eval(`(text, replace) => window.__pg.insert(this, text, replace)`, text, mode == page.ModeReplace)
	return ok && res.Value.Bool()
}

func (e *Element) DispatchBeforeInput(inputType, data string) bool {
	res, ok := e.eval(`(type, data) => window.__pg.beforeInput(this, type, data)`, inputType, data)
	return ok && res.Value.Bool()
}

// Click dispatches a click that travels the normal interception path
func (e *Element) Click() {
	e.eval(`() => this.click()`)
}

func (e *Element) DispatchKey(ev page.KeyEvent) {
	e.eval(`(key, shift) => window.__pg.key(this, key, shift)`, ev.Key, ev.Shift)
}

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

// Submit requests submission so submit listeners see it
func (e *Element) Submit() {
	e.eval(`() => this.requestSubmit()`)
}
