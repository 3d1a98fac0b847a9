// Package archive persists decision events to PostgreSQL for long-term
// reporting. Only finding names and severities are stored.
package archive

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/detect"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/telemetry"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS interception_events (
	id         UUID PRIMARY KEY,
	type       TEXT NOT NULL,
	source     TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	findings   JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interception_events_created_at ON interception_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_interception_events_type ON interception_events (type);`

// Store writes events to PostgreSQL
type Store struct {
	db         *sqlx.DB
	logger     *logger.Logger
	newBackoff func() retry.Backoff
}

// TypeCount is the number of archived events of one type
type TypeCount struct {
	Type  telemetry.EventType `db:"type" json:"type"`
	Count int64               `db:"count" json:"count"`
}

type eventRow struct {
	ID        string    `db:"id"`
	Type      string    `db:"type"`
	Source    string    `db:"source"`
	URL       string    `db:"url"`
	Findings  []byte    `db:"findings"`
	CreatedAt time.Time `db:"created_at"`
}

// New connects, configures the pool and ensures the schema exists
func New(cfg config.PostgresConfig, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := NewWithDB(db, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}

	s.logger.Info("Event archive initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return s, nil
}

// NewWithDB wraps an open database handle
func NewWithDB(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		db:     db,
		logger: log.WithComponent("archive"),
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond))
		},
	}
}

// Migrate creates the events table when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Record inserts the event, retrying transient connection failures
func (s *Store) Record(ctx context.Context, event telemetry.Event) error {
	row, err := toRow(event)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO interception_events (id, type, source, url, findings, created_at)
		VALUES (:id, :type, :source, :url, :findings, :created_at)
		ON CONFLICT (id) DO NOTHING`

	err = s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.NamedExecContext(ctx, query, row)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to archive event", zap.String("event_id", event.ID), zap.Error(err))
		return fmt.Errorf("failed to archive event: %w", err)
	}

	s.logger.Debug("Event archived", zap.String("event_id", event.ID), zap.String("type", row.Type))
	return nil
}

// Recent returns the newest events, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]telemetry.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []eventRow
	err := s.withRetry(ctx, func(ctx context.Context) error {
		rows = rows[:0]
		return s.db.SelectContext(ctx, &rows, `
			SELECT id, type, source, url, findings, created_at
			FROM interception_events
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]telemetry.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := r.event()
		if err != nil {
			s.logger.Warn("Skipping unreadable archived event", zap.String("event_id", r.ID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// CountByType aggregates archived events since the given time
func (s *Store) CountByType(ctx context.Context, since time.Time) ([]TypeCount, error) {
	var counts []TypeCount
	err := s.withRetry(ctx, func(ctx context.Context) error {
		counts = counts[:0]
		return s.db.SelectContext(ctx, &counts, `
			SELECT type, COUNT(*) AS count
			FROM interception_events
			WHERE created_at >= $1
			GROUP BY type
			ORDER BY count DESC, type`, since)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	return counts, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.newBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if isTransient(err) {
			s.logger.Debug("Retrying archive operation", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether a database error is worth retrying.
// Classes 08, 40 and 57 cover lost connections, serialization failures
// and server shutdown.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "57":
			return true
		}
	}
	return false
}

func toRow(event telemetry.Event) (eventRow, error) {
	findings := event.Findings
	if findings == nil {
		findings = []detect.Summary{}
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return eventRow{}, fmt.Errorf("failed to marshal findings: %w", err)
	}
	return eventRow{
		ID:        event.ID,
		Type:      string(event.Type),
		Source:    event.Source,
		URL:       event.URL,
		Findings:  data,
		CreatedAt: event.Timestamp,
	}, nil
}

func (r eventRow) event() (telemetry.Event, error) {
	var findings []detect.Summary
	if len(r.Findings) > 0 {
		if err := json.Unmarshal(r.Findings, &findings); err != nil {
			return telemetry.Event{}, fmt.Errorf("failed to unmarshal findings: %w", err)
		}
	}
	return telemetry.Event{
		ID:        r.ID,
		Type:      telemetry.EventType(r.Type),
		Source:    r.Source,
		URL:       r.URL,
		Findings:  findings,
		Timestamp: r.CreatedAt,
	}, nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	creds := url[:at]
	scheme := strings.Index(creds, "://")
	colon := strings.LastIndex(creds, ":")
	if colon <= scheme+2 {
		return url
	}
	return creds[:colon+1] + "***" + url[at:]
}
