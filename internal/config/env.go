package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envBinding maps one TODOS_* variable onto a config field.
type envBinding struct {
	name  string
	field string
	apply func(cfg *Config, value string) error
}

func envBindings() []envBinding {
	str := func(target func(*Config) *string) func(*Config, string) error {
		return func(cfg *Config, v string) error {
			*target(cfg) = v
			return nil
		}
	}
	num := func(target func(*Config) *int) func(*Config, string) error {
		return func(cfg *Config, v string) error {
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("not a number: %q", v)
			}
			*target(cfg) = i
			return nil
		}
	}
	boolean := func(target func(*Config) *bool) func(*Config, string) error {
		return func(cfg *Config, v string) error {
			*target(cfg) = boolFromString(v)
			return nil
		}
	}

	return []envBinding{
		{"TODOS_STORAGE", "storage", str(func(c *Config) *string { return &c.Storage })},
		{"TODOS_DATA_DIR", "data_dir", str(func(c *Config) *string { return &c.DataDir })},
		{"TODOS_SQLITE_PATH", "sqlite_path", str(func(c *Config) *string { return &c.SQLitePath })},
		{"TODOS_REDIS_ADDR", "redis.addr", str(func(c *Config) *string { return &c.Redis.Addr })},
		{"TODOS_REDIS_PASSWORD", "redis.password", str(func(c *Config) *string { return &c.Redis.Password })},
		{"TODOS_REDIS_DB", "redis.db", num(func(c *Config) *int { return &c.Redis.DB })},
		{"TODOS_REDIS_PREFIX", "redis.prefix", str(func(c *Config) *string { return &c.Redis.Prefix })},
		{"TODOS_KEY", "key", str(func(c *Config) *string { return &c.Key })},
		{"TODOS_ID_STRATEGY", "id_strategy", str(func(c *Config) *string { return &c.IDStrategy })},
		{"TODOS_RETRY_ATTEMPTS", "retry_attempts", num(func(c *Config) *int { return &c.RetryAttempts })},
		{"TODOS_RETRY_DELAY_MS", "retry_delay_ms", num(func(c *Config) *int { return &c.RetryDelayMS })},
		{"TODOS_WRITE_TIMEOUT_MS", "write_timeout_ms", num(func(c *Config) *int { return &c.WriteTimeoutMS })},
		{"TODOS_LOG_DIR", "log_dir", str(func(c *Config) *string { return &c.LogDir })},
		{"TODOS_LOG_LEVEL", "log_level", str(func(c *Config) *string { return &c.LogLevel })},
		{"TODOS_LOG_FORMAT", "log_format", str(func(c *Config) *string { return &c.LogFormat })},
		{"TODOS_LOG_TIMESTAMPS", "log_timestamps", boolean(func(c *Config) *bool { return &c.LogTimestamps })},
		{"TODOS_LOG_CALLER", "log_caller", boolean(func(c *Config) *bool { return &c.LogCaller })},
	}
}

// loadFromEnv overrides config from environment variables. Empty variables
// are ignored. If sources is non-nil, it tracks the source of each value.
func loadFromEnv(cfg *Config, sources map[string]ConfigSource) error {
	for _, b := range envBindings() {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		if sources != nil {
			sources[b.field] = SourceEnv
		}
	}
	return nil
}

// boolFromString parses common truthy spellings.
func boolFromString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
