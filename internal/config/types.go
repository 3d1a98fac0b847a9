package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Detection DetectionConfig  `yaml:"detection" mapstructure:"detection"`
	Gate      GateConfig       `yaml:"gate" mapstructure:"gate"`
	Channels  ChannelsConfig   `yaml:"channels" mapstructure:"channels"`
	Platforms []PlatformConfig `yaml:"platforms" mapstructure:"platforms"`
	Confirm   ConfirmConfig    `yaml:"confirm" mapstructure:"confirm"`
	Telemetry TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	WebSocket WebSocketConfig  `yaml:"websocket" mapstructure:"websocket"`
	Upstream  UpstreamConfig   `yaml:"upstream" mapstructure:"upstream"`
	Browser   BrowserConfig    `yaml:"browser" mapstructure:"browser"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`

	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig limits proxied requests per client IP
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	MaxClients     int  `yaml:"max_clients" mapstructure:"max_clients"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// DetectionConfig selects the rule catalog entries and extra example filters
type DetectionConfig struct {
	Detectors      []string `yaml:"detectors" mapstructure:"detectors"`
	ExampleFilters []string `yaml:"example_filters" mapstructure:"example_filters"`
}

// GateConfig tunes the decision gate windows
type GateConfig struct {
	BypassWindow   time.Duration `yaml:"bypass_window" mapstructure:"bypass_window"`
	CooldownWindow time.Duration `yaml:"cooldown_window" mapstructure:"cooldown_window"`
}

// ChannelsConfig switches individual interception channels on or off
type ChannelsConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	Keystroke  bool `yaml:"keystroke" mapstructure:"keystroke"`
	LiveTyping bool `yaml:"live_typing" mapstructure:"live_typing"`
	Paste      bool `yaml:"paste" mapstructure:"paste"`
	Copy       bool `yaml:"copy" mapstructure:"copy"`
	Form       bool `yaml:"form" mapstructure:"form"`
	Outbound   bool `yaml:"outbound" mapstructure:"outbound"`
	URL        bool `yaml:"url" mapstructure:"url"`

	Debounce            time.Duration `yaml:"debounce" mapstructure:"debounce"`
	ResumeDelay         time.Duration `yaml:"resume_delay" mapstructure:"resume_delay"`
	CopyWarning         time.Duration `yaml:"copy_warning" mapstructure:"copy_warning"`
	OutboundWarning     time.Duration `yaml:"outbound_warning" mapstructure:"outbound_warning"`
	URLWarning          time.Duration `yaml:"url_warning" mapstructure:"url_warning"`
	URLMinSegmentLength int           `yaml:"url_min_segment_length" mapstructure:"url_min_segment_length"`
	URLRecencySize      int           `yaml:"url_recency_size" mapstructure:"url_recency_size"`
}

// PlatformConfig describes one supported AI chat site
type PlatformConfig struct {
	Key             string   `yaml:"key" mapstructure:"key"`
	Name            string   `yaml:"name" mapstructure:"name"`
	HostPattern     string   `yaml:"host_pattern" mapstructure:"host_pattern"`
	InputSelectors  []string `yaml:"input_selectors" mapstructure:"input_selectors"`
	SubmitSelectors []string `yaml:"submit_selectors" mapstructure:"submit_selectors"`
}

// ConfirmConfig selects how blocking choices reach the user
type ConfirmConfig struct {
	Mode              string        `yaml:"mode" mapstructure:"mode"` // hub, allow or deny
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	WarningsPerMinute int           `yaml:"warnings_per_minute" mapstructure:"warnings_per_minute"`
}

// TelemetryConfig configures where decision events are recorded
type TelemetryConfig struct {
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// RedisConfig backs the counters and recent event history
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxEvents int64  `yaml:"max_events" mapstructure:"max_events"`
	PoolSize  int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// PostgresConfig backs the durable event archive
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Path           string   `yaml:"path" mapstructure:"path"`
	Username       string   `yaml:"username" mapstructure:"username"`
	Password       string   `yaml:"password" mapstructure:"password"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Token          string   `yaml:"token" mapstructure:"token"`
	Events         struct {
		BroadcastDecisions   bool `yaml:"broadcast_decisions" mapstructure:"broadcast_decisions"`
		BroadcastWarnings    bool `yaml:"broadcast_warnings" mapstructure:"broadcast_warnings"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// UpstreamConfig contains upstream service configuration
type UpstreamConfig struct {
	OpenAI    string        `yaml:"openai" mapstructure:"openai"`
	Anthropic string        `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama    string        `yaml:"ollama" mapstructure:"ollama"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// BrowserConfig configures the live Chrome host
type BrowserConfig struct {
	DebuggerURL  string        `yaml:"debugger_url" mapstructure:"debugger_url"`
	Bin          string        `yaml:"bin" mapstructure:"bin"`
	Headless     bool          `yaml:"headless" mapstructure:"headless"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerMin: 120,
				MaxClients:     10000,
			},
		},
		Detection: DetectionConfig{
			Detectors: []string{"all"},
		},
		Gate: GateConfig{
			BypassWindow:   3 * time.Second,
			CooldownWindow: 500 * time.Millisecond,
		},
		Channels: ChannelsConfig{
			Enabled:             true,
			Keystroke:           true,
			LiveTyping:          true,
			Paste:               true,
			Copy:                true,
			Form:                true,
			Outbound:            true,
			URL:                 true,
			Debounce:            150 * time.Millisecond,
			ResumeDelay:         100 * time.Millisecond,
			CopyWarning:         4 * time.Second,
			OutboundWarning:     5 * time.Second,
			URLWarning:          5 * time.Second,
			URLMinSegmentLength: 5,
			URLRecencySize:      500,
		},
		Confirm: ConfirmConfig{
			Mode:              "hub",
			Timeout:           2 * time.Minute,
			WarningsPerMinute: 30,
		},
		Telemetry: TelemetryConfig{
			Redis: RedisConfig{
				URL:       "redis://localhost:6379/0",
				KeyPrefix: "promptguard",
				MaxEvents: 100,
				PoolSize:  10,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Path:    "/ws",
		},
		Upstream: UpstreamConfig{
			OpenAI:    "https://api.openai.com",
			Anthropic: "https://api.anthropic.com",
			Ollama:    "http://localhost:11434",
			Timeout:   30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:     false,
			PollInterval: 250 * time.Millisecond,
		},
	}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File.Path = "logs/promptguard.log"

	cfg.WebSocket.Events.BroadcastDecisions = true
	cfg.WebSocket.Events.BroadcastWarnings = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
