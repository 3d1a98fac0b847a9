//go:build integration

package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/confirm"
	"github.com/raaihank/promptguard/internal/gate"
	"github.com/raaihank/promptguard/internal/intercept"
	"github.com/raaihank/promptguard/internal/page"
	"github.com/raaihank/promptguard/internal/platform"
	"github.com/raaihank/promptguard/internal/surface"
	"github.com/raaihank/promptguard/internal/telemetry"
)

const chatPage = `<!DOCTYPE html><html><body>
<form id="chat" onsubmit="event.preventDefault(); document.title = 'sent:' + this.prompt.value">
  <textarea name="prompt" id="prompt-textarea"></textarea>
  <button type="submit" aria-label="Send prompt">Send</button>
</form>
</body></html>`

// Run with: go test -tags integration ./internal/browser/ (needs Chrome,
// PROMPTGUARD_CHROME_BIN selects the binary)
func TestHostKeystrokeRedaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(chatPage))
	}))
	defer srv.Close()

	sites, err := platform.NewRegistry([]config.PlatformConfig{{
		Key:             "local",
		Name:            "Local",
		HostPattern:     `^127\.0\.0\.1`,
		InputSelectors:  []string{"#prompt-textarea"},
		SubmitSelectors: []string{`button[aria-label="Send prompt"]`},
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.GetDefaults().Browser
	cfg.Headless = true
	cfg.Bin = os.Getenv("PROMPTGUARD_CHROME_BIN")
	host, err := Launch(ctx, cfg, sites, nil)
	require.NoError(t, err)
	defer host.Close()

	g := gate.New(config.GetDefaults().Gate, &confirm.Static{Proceed: false}, nil)
	defer g.Wait()

	var events []telemetry.EventType
	sink := telemetry.SinkFunc(func(_ context.Context, ev telemetry.Event) error {
		events = append(events, ev.Type)
		return nil
	})

	channels := config.GetDefaults().Channels
	channels.LiveTyping = false
	coord := intercept.New(channels, intercept.Deps{Gate: g, Sink: sink, Platforms: sites})
	defer coord.Close()

	doc, err := host.Open(ctx, srv.URL)
	require.NoError(t, err)
	coord.Attach(doc)

	el, err := doc.page.Element("#prompt-textarea")
	require.NoError(t, err)
	require.NoError(t, el.Input("mail alice@corp.io please"))
	require.NoError(t, doc.page.Keyboard.Press(input.Enter))

	require.Eventually(t, func() bool {
		res, err := el.Eval(`() => this.value`)
		return err == nil && res.Value.Str() == "mail please"
	}, 10*time.Second, 100*time.Millisecond)

	coord.Wait()
	assert.Equal(t, []telemetry.EventType{telemetry.PromptBlocked}, events)

	title, err := doc.page.Eval(`() => document.title`)
	require.NoError(t, err)
	assert.Empty(t, title.Value.Str())
}

func TestElementAppendAfterAstralCharacter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(chatPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.GetDefaults().Browser
	cfg.Headless = true
	cfg.Bin = os.Getenv("PROMPTGUARD_CHROME_BIN")
	host, err := Launch(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer host.Close()

	doc, err := host.Open(ctx, srv.URL)
	require.NoError(t, err)

	el, err := doc.page.Element("#prompt-textarea")
	require.NoError(t, err)
	_, err = el.Eval(`() => { this.value = "😀 tail"; this.setSelectionRange(3, 3); }`)
	require.NoError(t, err)

	field := newElement(doc, el)
	start, end, ok := field.Selection()
	require.True(t, ok)
	assert.Equal(t, 2, start)
	assert.Equal(t, 2, end)

	require.NoError(t, surface.Bind(field).Write("key ", page.ModeAppend))
	assert.Equal(t, "😀 key tail", field.Value())

	caret, err := el.Eval(`() => this.selectionStart`)
	require.NoError(t, err)
	assert.Equal(t, 7, caret.Value.Int())
}
