package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	mu      sync.Mutex
	current *viper.Viper
)

// Load loads configuration from file, .env and environment variables
func Load(configPath string) (*Config, error) {
	// Best-effort: a missing .env is the normal case
	_ = godotenv.Load()

	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/promptguard/")
	v.AddConfigPath("$HOME/.promptguard/")

	v.SetEnvPrefix("PROMPTGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvDefaults(v, config)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	current = v
	mu.Unlock()

	return config, nil
}

// bindEnvDefaults registers the keys most often overridden from the
// environment; AutomaticEnv only resolves keys viper already knows about.
func bindEnvDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("channels.enabled", cfg.Channels.Enabled)
	v.SetDefault("confirm.mode", cfg.Confirm.Mode)
	v.SetDefault("telemetry.redis.enabled", cfg.Telemetry.Redis.Enabled)
	v.SetDefault("telemetry.redis.url", cfg.Telemetry.Redis.URL)
	v.SetDefault("telemetry.postgres.enabled", cfg.Telemetry.Postgres.Enabled)
	v.SetDefault("telemetry.postgres.database_url", cfg.Telemetry.Postgres.DatabaseURL)
	v.SetDefault("websocket.username", cfg.WebSocket.Username)
	v.SetDefault("websocket.password", cfg.WebSocket.Password)
	v.SetDefault("websocket.token", cfg.WebSocket.Token)
	v.SetDefault("browser.debugger_url", cfg.Browser.DebuggerURL)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	switch config.Confirm.Mode {
	case "hub", "allow", "deny":
	default:
		return fmt.Errorf("invalid confirm mode: %s (must be hub, allow, or deny)", config.Confirm.Mode)
	}

	if config.Gate.BypassWindow < 0 || config.Gate.CooldownWindow < 0 {
		return fmt.Errorf("gate windows must not be negative")
	}

	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.Server.RateLimit.RequestsPerMin)
	}

	if config.Channels.Debounce <= 0 {
		return fmt.Errorf("invalid debounce: %s", config.Channels.Debounce)
	}

	if config.Channels.URLRecencySize <= 0 {
		return fmt.Errorf("invalid url recency size: %d", config.Channels.URLRecencySize)
	}

	if config.Channels.URLMinSegmentLength < 0 {
		return fmt.Errorf("invalid url minimum segment length: %d", config.Channels.URLMinSegmentLength)
	}

	for _, p := range config.Platforms {
		if p.Key == "" {
			return fmt.Errorf("platform entry is missing a key")
		}
		if _, err := regexp.Compile(p.HostPattern); err != nil {
			return fmt.Errorf("platform %s: invalid host pattern: %w", p.Key, err)
		}
	}

	for _, pattern := range config.Detection.ExampleFilters {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid example filter %q: %w", pattern, err)
		}
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid
// revisions are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := current
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration has not been loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
