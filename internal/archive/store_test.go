package archive

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/telemetry"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	s := NewWithDB(nil, nil)
	s.newBackoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}

	t.Run("TransientThenSuccess", func(t *testing.T) {
		calls := 0
		err := s.withRetry(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return driver.ErrBadConn
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("PermanentFailsFast", func(t *testing.T) {
		calls := 0
		err := s.withRetry(context.Background(), func(context.Context) error {
			calls++
			return &pq.Error{Code: "23505"}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("GivesUp", func(t *testing.T) {
		calls := 0
		err := s.withRetry(context.Background(), func(context.Context) error {
			calls++
			return &pq.Error{Code: "08006"}
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls)
	})
}

func TestRowConversion(t *testing.T) {
	ev := telemetry.NewEvent(telemetry.FormBlocked, "form", []detect.Finding{
		{Name: "Email", Match: "alice@corp.io", Severity: detect.SeverityMedium},
	}, "https://intranet.corp.io/signup")

	row, err := toRow(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(row.Findings), "alice@corp.io")
	assert.JSONEq(t, `[{"name":"Email","severity":"medium"}]`, string(row.Findings))

	back, err := row.event()
	require.NoError(t, err)
	assert.Equal(t, ev.Findings, back.Findings)
	assert.Equal(t, ev.Type, back.Type)

	empty, err := toRow(telemetry.NewEvent(telemetry.FormAllowed, "form", nil, ""))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty.Findings))
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://guard:***@db:5432/guard?sslmode=disable",
		maskDatabaseURL("postgres://guard:hunter2@db:5432/guard?sslmode=disable"))
	assert.Equal(t, "postgres://guard@db:5432/guard", maskDatabaseURL("postgres://guard@db:5432/guard"))
	assert.Equal(t, "postgres://db/guard", maskDatabaseURL("postgres://db/guard"))
}
