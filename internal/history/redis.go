// Package history keeps block/warn counters and the most recent decision
// events in Redis.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/promptguard/internal/config"
	"github.com/raaihank/promptguard/internal/logger"
	"github.com/raaihank/promptguard/internal/telemetry"
	"go.uber.org/zap"
)

// Stats is a snapshot of the counters and recent events
type Stats struct {
	TotalBlocked int64             `json:"total_blocked"`
	TotalWarned  int64             `json:"total_warned"`
	Enabled      bool              `json:"enabled"`
	Events       []telemetry.Event `json:"events"`
}

// Store is a Redis-backed telemetry sink
type Store struct {
	client    *redis.Client
	keyPrefix string
	maxEvents int64
	logger    *logger.Logger
}

// New connects to Redis and verifies the connection
func New(cfg config.RedisConfig, log *logger.Logger) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	s := NewWithClient(redis.NewClient(opts), cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s.logger.Info("Event history initialized",
		zap.String("redis_url", maskRedisURL(cfg.URL)),
		zap.Int64("max_events", s.maxEvents),
	)

	return s, nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, cfg config.RedisConfig, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "promptguard"
	}
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 100
	}
	return &Store{
		client:    client,
		keyPrefix: prefix,
		maxEvents: maxEvents,
		logger:    log.WithComponent("history"),
	}
}

func (s *Store) key(name string) string {
	return s.keyPrefix + ":" + name
}

// Record updates the counters and appends the event, keeping only the
// most recent ones
func (s *Store) Record(ctx context.Context, event telemetry.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if event.Blocked() {
			pipe.Incr(ctx, s.key("blocked"))
		}
		if event.Warned() {
			pipe.Incr(ctx, s.key("warned"))
		}
		pipe.RPush(ctx, s.key("events"), data)
		pipe.LTrim(ctx, s.key("events"), -s.maxEvents, -1)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to record event", zap.String("type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("failed to record event: %w", err)
	}

	s.logger.Debug("Event recorded", zap.String("type", string(event.Type)))
	return nil
}

// Stats returns the counters and the retained events, oldest first
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	pipe := s.client.Pipeline()
	blocked := pipe.Get(ctx, s.key("blocked"))
	warned := pipe.Get(ctx, s.key("warned"))
	enabled := pipe.Get(ctx, s.key("enabled"))
	events := pipe.LRange(ctx, s.key("events"), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	stats := &Stats{
		TotalBlocked: parseCount(blocked.Val()),
		TotalWarned:  parseCount(warned.Val()),
		Enabled:      enabled.Val() != "0",
		Events:       make([]telemetry.Event, 0, len(events.Val())),
	}

	for _, raw := range events.Val() {
		var ev telemetry.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			s.logger.Warn("Skipping corrupt event entry", zap.Error(err))
			continue
		}
		stats.Events = append(stats.Events, ev)
	}

	return stats, nil
}

func parseCount(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// SetEnabled stores the engine on/off switch
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	v := "1"
	if !enabled {
		v = "0"
	}
	if err := s.client.Set(ctx, s.key("enabled"), v, 0).Err(); err != nil {
		return fmt.Errorf("failed to store enabled flag: %w", err)
	}
	return nil
}

// Enabled reports the stored switch, defaulting to on
func (s *Store) Enabled(ctx context.Context) (bool, error) {
	v, err := s.client.Get(ctx, s.key("enabled")).Result()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("failed to read enabled flag: %w", err)
	}
	return v != "0", nil
}

// Clear resets the counters and drops the retained events
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key("blocked"), s.key("warned"), s.key("events")).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	s.logger.Info("Event history cleared")
	return nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	creds := url[:at]
	colon := strings.LastIndex(creds, ":")
	if colon < 0 || colon < strings.Index(creds, "//") {
		return url
	}
	return creds[:colon+1] + "***" + url[at:]
}
