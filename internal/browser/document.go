package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/page"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// bridgeMessage is what the bridge script sends through the binding
type bridgeMessage struct {
	Kind  string `json:"kind"`
	Ref   string `json:"ref"`
	Key   string `json:"key"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Text  string `json:"text"`
	Watch int    `json:"watch"`
}

// Document is a Chrome tab seen through the bridge
type Document struct {
	page   *rod.Page
	logger *logger.Logger
	cancel context.CancelFunc
	stops  []func() error

	mu      sync.Mutex
	url     string
	watchID int
	watches map[int]func()

	mutations page.Listeners[func()]
	loads     page.Listeners[func()]
	keys      page.Listeners[func(*page.KeyEvent)]
	clicks    page.Listeners[func(*page.ClickEvent)]
	pastes    page.Listeners[func(*page.PasteEvent)]
	copies    page.Listeners[func(*page.CopyEvent)]
	submits   page.Listeners[func(*page.SubmitEvent)]
	navs      page.Listeners[func(string)]
}

var _ page.Document = (*Document)(nil)

func newDocument(ctx context.Context, p *rod.Page, bootstrap string, log *logger.Logger) (*Document, error) {
	ctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:    p.Context(ctx),
		logger:  log,
		cancel:  cancel,
		watches: make(map[int]func()),
	}

	stopExpose, err := d.page.Expose(bindingName, d.handle)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("expose bridge binding: %w", err)
	}
	d.stops = append(d.stops, stopExpose)

	removeScript, err := d.page.EvalOnNewDocument(bootstrap)
	if err != nil {
		d.detach()
		return nil, fmt.Errorf("install bridge: %w", err)
	}
	d.stops = append(d.stops, removeScript)

	if _, err := d.page.Eval("() => {\n" + bootstrap + "\n}"); err != nil {
		d.detach()
		return nil, fmt.Errorf("install bridge: %w", err)
	}

	wait := d.page.EachEvent(
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			d.navigated(e.Frame.URL, true)
		},
		func(e *proto.PageNavigatedWithinDocument) {
			if e.FrameID != d.page.FrameID {
				return
			}
			d.navigated(e.URL, false)
		},
	)
	go wait()

	return d, nil
}

// Goto navigates the tab and waits for the load event
func (d *Document) Goto(url string) error {
	if err := d.page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s: %w", url, err)
	}
	return nil
}

// Close detaches the bridge and closes the tab
func (d *Document) Close() error {
	errs := d.stopAll()
	if err := d.page.Close(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	d.cancel()
	return errors.Join(errs...)
}

// detach removes the bridge hooks but leaves the tab open
func (d *Document) detach() {
	d.stopAll()
	d.cancel()
}

func (d *Document) stopAll() []error {
	var errs []error
	for i := len(d.stops) - 1; i >= 0; i-- {
		if err := d.stops[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.stops = nil
	return errs
}

func (d *Document) navigated(url string, load bool) {
	d.mu.Lock()
	d.url = url
	if load {
		// watches belonged to the previous page's nodes
		d.watches = make(map[int]func())
	}
	d.mu.Unlock()

	d.logger.Debug("Page navigated", zap.String("url", url), zap.Bool("load", load))
	if load {
		for _, fn := range d.loads.Snapshot() {
			fn()
		}
	}
	for _, fn := range d.navs.Snapshot() {
		fn(url)
	}
}

// URL returns the current page URL
func (d *Document) URL() string {
	d.mu.Lock()
	url := d.url
	d.mu.Unlock()
	if url != "" {
		return url
	}
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// QueryAll returns elements matching selector in document order
func (d *Document) QueryAll(selector string) []page.Node {
	els, err := d.page.Elements(selector)
	if err != nil {
		d.logger.Debug("Query failed", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	return wrapAll(d, els)
}

func (d *Document) OnMutation(fn func()) func() { return d.mutations.Add(fn) }

// OnLoad subscribes to full page loads, after which previously returned
// nodes are gone
func (d *Document) OnLoad(fn func()) func() { return d.loads.Add(fn) }

func (d *Document) OnKeyDown(fn func(*page.KeyEvent)) func()   { return d.keys.Add(fn) }
func (d *Document) OnClick(fn func(*page.ClickEvent)) func()   { return d.clicks.Add(fn) }
func (d *Document) OnPaste(fn func(*page.PasteEvent)) func()   { return d.pastes.Add(fn) }
func (d *Document) OnCopy(fn func(*page.CopyEvent)) func()     { return d.copies.Add(fn) }
func (d *Document) OnSubmit(fn func(*page.SubmitEvent)) func() { return d.submits.Add(fn) }
func (d *Document) OnNavigate(fn func(url string)) func()      { return d.navs.Add(fn) }

// handle runs the listeners for one bridge message. The reply tells the
// bridge whether to replay the suspended native action.
func (d *Document) handle(payload gson.JSON) (interface{}, error) {
	var msg bridgeMessage
	if err := json.Unmarshal([]byte(payload.JSON("", "")), &msg); err != nil {
		return nil, fmt.Errorf("decode bridge message: %w", err)
	}

	prevented := false
	switch msg.Kind {
	case "key":
		ev := &page.KeyEvent{
			Key:    msg.Key,
			Shift:  msg.Shift,
			Alt:    msg.Alt,
			Ctrl:   msg.Ctrl,
			Meta:   msg.Meta,
			Target: d.resolve(msg.Ref),
		}
		for _, fn := range d.keys.Snapshot() {
			fn(ev)
		}
		prevented = ev.DefaultPrevented()

	case "click":
		ev := &page.ClickEvent{Target: d.resolve(msg.Ref)}
		for _, fn := range d.clicks.Snapshot() {
			fn(ev)
		}
		prevented = ev.DefaultPrevented()

	case "paste":
		ev := &page.PasteEvent{Target: d.resolve(msg.Ref), Text: msg.Text}
		for _, fn := range d.pastes.Snapshot() {
			fn(ev)
		}
		prevented = ev.DefaultPrevented()

	case "copy":
		ev := &page.CopyEvent{Selection: msg.Text}
		for _, fn := range d.copies.Snapshot() {
			fn(ev)
		}

	case "submit":
		form, ok := d.resolve(msg.Ref).(page.Form)
		if !ok {
			break
		}
		ev := &page.SubmitEvent{Form: form}
		for _, fn := range d.submits.Snapshot() {
			fn(ev)
		}
		prevented = ev.DefaultPrevented()

	case "change":
		d.mu.Lock()
		fn := d.watches[msg.Watch]
		d.mu.Unlock()
		if fn != nil {
			fn()
		}

	case "mutation":
		for _, fn := range d.mutations.Snapshot() {
			fn()
		}

	default:
		d.logger.Debug("Unknown bridge message", zap.String("kind", msg.Kind))
	}

	return map[string]bool{"replay": !prevented}, nil
}

// resolve finds the element the bridge tagged with ref. The result is an
// untyped nil when there is none.
func (d *Document) resolve(ref string) page.Node {
	selector, err := refSelector(ref)
	if err != nil {
		return nil
	}
	els, err := d.page.Elements(selector)
	if err != nil || len(els) == 0 {
		return nil
	}
	return newElement(d, els.First())
}

func refSelector(ref string) (string, error) {
	n, err := strconv.Atoi(ref)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid element ref %q", ref)
	}
	return fmt.Sprintf(`[data-pg-ref="%d"]`, n), nil
}

// watch registers fn for change notifications of one element
func (d *Document) watch(fn func()) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watchID++
	d.watches[d.watchID] = fn
	return d.watchID
}

func (d *Document) unwatch(id int) {
	d.mu.Lock()
	delete(d.watches, id)
	d.mu.Unlock()
	if _, err := d.page.Eval(`(id) => window.__pg && window.__pg.unwatch(id)`, id); err != nil {
		d.logger.Debug("Unwatch failed", zap.Int("watch", id), zap.Error(err))
	}
}
