package intercept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/telemetry"
)

func withRecency(size int) harnessOption {
	return func(c *config.ChannelsConfig, _ *config.GateConfig) { c.URLRecencySize = size }
}

func TestURLInspect(t *testing.T) {
	h := newHarness(t, "", "", false)

	hits := h.coord.url.inspect("https://example.org/api/u/alice@corp.io?contact=bob%40corp.io#ip=10.0.0.5")
	var locations []string
	for _, hit := range hits {
		locations = append(locations, hit.location)
	}
	assert.Equal(t, []string{"?contact", "/alice@corp.io", "#fragment"}, locations)
	assert.Equal(t, "IP Address", hits[2].findings[0].Name)

	t.Run("ParamName", func(t *testing.T) {
		hits := h.coord.url.inspect("https://example.org/search?alice@corp.io=1")
		require.Len(t, hits, 1)
		assert.Equal(t, "?alice@corp.io (param name)", hits[0].location)
	})

	t.Run("ShortSegmentsSkipped", func(t *testing.T) {
		assert.Empty(t, h.coord.url.inspect("https://example.org/1234/abc"))
	})

	t.Run("Unparseable", func(t *testing.T) {
		assert.Nil(t, h.coord.url.inspect("alice@corp.io"))
		assert.Nil(t, h.coord.url.inspect("http://[::1"))
	})
}

func TestURLNavigate(t *testing.T) {
	t.Run("WarnsOncePerURL", func(t *testing.T) {
		h := newHarness(t, "", "", false)
		target := "https://example.org/profile?email=alice@corp.io&ip=10.1.2.3"

		h.coord.Navigate(target)
		h.coord.Navigate(target)

		events := h.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, telemetry.URLPIIDetected, events[0].Type)
		assert.Equal(t, "url", events[0].Source)
		assert.Equal(t, target, events[0].URL)
		assert.Equal(t, []string{"PII found in URL parameters: Email, IP Address"}, h.warner.all())
	})

	t.Run("CleanURL", func(t *testing.T) {
		h := newHarness(t, "", "", false)
		h.coord.Navigate("https://example.org/docs?page=2")
		assert.Empty(t, h.sink.all())
		assert.Empty(t, h.warner.all())
	})

	t.Run("RecencyIsBounded", func(t *testing.T) {
		h := newHarness(t, "", "", false, withRecency(2))
		first := "https://example.org/?email=a@corp.io"

		h.coord.Navigate(first)
		h.coord.Navigate("https://example.org/?email=b@corp.io")
		h.coord.Navigate("https://example.org/?email=c@corp.io")
		h.coord.Navigate(first)

		assert.Len(t, h.sink.all(), 4)
	})

	t.Run("DocumentNavigation", func(t *testing.T) {
		h := newHarness(t, "https://claude.ai/new", claudeMarkup, false, withoutLiveTyping())
		h.doc.Navigate("https://claude.ai/chat/alice@corp.io")

		events := h.sink.all()
		require.Len(t, events, 1)
		assert.Equal(t, "https://claude.ai/chat/alice@corp.io", events[0].URL)
		assert.Empty(t, h.doc.Activations())
	})
}
