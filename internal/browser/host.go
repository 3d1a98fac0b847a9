// Package browser hosts the interception engine in a live Chrome tab. A
// small bridge script suspends qualifying user actions, hands them to Go
// over a DevTools binding and replays the ones no listener prevented.
package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/platform"
	"go.uber.org/zap"
)

//go:embed bridge.js
var bridgeJS string

// bindingName is the DevTools binding the bridge reports through
const bindingName = "__pgEmit"

// Host owns the Chrome connection
type Host struct {
	cfg       config.BrowserConfig
	logger    *logger.Logger
	browser   *rod.Browser
	bootstrap string

	mu   sync.Mutex
	docs []*Document
}

// Launch connects to the configured debugger URL, or starts a local Chrome
// when there is none. Submit selectors of every known site are handed to
// the bridge so clicks on send buttons are suspended too.
func Launch(ctx context.Context, cfg config.BrowserConfig, sites *platform.Registry, log *logger.Logger) (*Host, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("browser")

	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	bootstrap, err := bootstrapScript(sites)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	log.Info("Browser connected", zap.Bool("headless", cfg.Headless), zap.Bool("attached", cfg.DebuggerURL != ""))
	return &Host{cfg: cfg, logger: log, browser: b, bootstrap: bootstrap}, nil
}

// bootstrapScript prefixes the bridge with the submit selectors it
// watches clicks on
func bootstrapScript(sites *platform.Registry) (string, error) {
	var selectors []string
	if sites != nil {
		for _, d := range sites.All() {
			selectors = append(selectors, d.SubmitSelectors...)
		}
	}
	if selectors == nil {
		selectors = []string{}
	}
	raw, err := json.Marshal(map[string][]string{"submit": selectors})
	if err != nil {
		return "", fmt.Errorf("encode bridge config: %w", err)
	}
	return fmt.Sprintf("window.__pgConfig = %s;\n%s", raw, bridgeJS), nil
}

// Open creates a tab with the bridge installed and navigates it to url
func (h *Host) Open(ctx context.Context, url string) (*Document, error) {
	p, err := h.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	doc, err := newDocument(ctx, p, h.bootstrap, h.logger)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	if url != "" {
		if err := doc.Goto(url); err != nil {
			doc.Close()
			return nil, err
		}
	}

	h.mu.Lock()
	h.docs = append(h.docs, doc)
	h.mu.Unlock()
	return doc, nil
}

// Close closes every opened tab and the browser connection
func (h *Host) Close() error {
	h.mu.Lock()
	docs := h.docs
	h.docs = nil
	h.mu.Unlock()

	var errs []error
	for _, d := range docs {
		errs = append(errs, d.Close())
	}
	if h.cfg.DebuggerURL == "" {
		errs = append(errs, h.browser.Close())
	}
	return errors.Join(errs...)
}
