//go:build integration

package history

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAgainstRedis(t *testing.T) {
	url := os.Getenv("PROMPTGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PROMPTGUARD_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	s, err := New(config.RedisConfig{URL: url, KeyPrefix: "pg-test-" + uuid.NewString(), MaxEvents: 3}, nil)
	require.NoError(t, err)
	defer s.Close()
	defer s.Clear(ctx)

	card := []detect.Finding{{Name: "Credit Card", Match: "4111111111111111", Severity: detect.SeverityCritical}}
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Record(ctx, telemetry.NewEvent(telemetry.PasteBlocked, "paste", card, "")))
	}
	require.NoError(t, s.Record(ctx, telemetry.NewEvent(telemetry.CopyWarned, "copy", card, "")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalBlocked)
	assert.Equal(t, int64(1), stats.TotalWarned)
	assert.True(t, stats.Enabled)
	require.Len(t, stats.Events, 3)
	assert.Equal(t, telemetry.CopyWarned, stats.Events[2].Type)

	require.NoError(t, s.SetEnabled(ctx, false))
	enabled, err := s.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, s.Clear(ctx))
	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalBlocked)
	assert.Empty(t, stats.Events)
}
