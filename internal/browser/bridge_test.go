package browser

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/promptguard/internal/platform"
)

func TestRefSelector(t *testing.T) {
	sel, err := refSelector("12")
	require.NoError(t, err)
	assert.Equal(t, `[data-pg-ref="12"]`, sel)

	for _, bad := range []string{"", "0", "-3", `1"] , body [x="`} {
		_, err := refSelector(bad)
		assert.Error(t, err, bad)
	}
}

func TestBootstrapScript(t *testing.T) {
	sites, err := platform.NewRegistry(nil)
	require.NoError(t, err)

	script, err := bootstrapScript(sites)
	require.NoError(t, err)

	prefix, _, ok := strings.Cut(script, ";\n")
	require.True(t, ok)
	raw := strings.TrimPrefix(prefix, "window.__pgConfig = ")

	var cfg struct {
		Submit []string `json:"submit"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	assert.Contains(t, cfg.Submit, `button[aria-label="Send Message"]`)
	assert.Contains(t, script, bindingName)

	t.Run("NoSites", func(t *testing.T) {
		script, err := bootstrapScript(nil)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(script, `window.__pgConfig = {"submit":[]};`))
	})
}

func TestSelectionOffsets(t *testing.T) {
	value := "😀 card é"

	tests := []struct {
		units int
		runes int
	}{
		{0, 0},
		{2, 1},
		{3, 2},
		{8, 7},
		{9, 8},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.runes, runeOffset(value, tc.units), "units %d", tc.units)
		assert.Equal(t, tc.units, utf16Offset(value, tc.runes), "runes %d", tc.runes)
	}

	t.Run("InsideSurrogatePair", func(t *testing.T) {
		assert.Equal(t, 1, runeOffset(value, 1))
	})

	t.Run("PastEnd", func(t *testing.T) {
		assert.Equal(t, 8, runeOffset(value, 50))
		assert.Equal(t, 9, utf16Offset(value, 50))
	})
}
