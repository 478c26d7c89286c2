package config

import (
	"fmt"
	"time"

	"github.com/nibzard/todos/internal/kv"
	"github.com/nibzard/todos/internal/todo"
)

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault  ConfigSource = "default"
	SourceUserFile ConfigSource = "user file"
	SourceProjFile ConfigSource = "project file"
	SourceEnv      ConfigSource = "environment"
	SourceFlag     ConfigSource = "flag"
)

// ConfigWithSources holds configuration along with source information for each field.
type ConfigWithSources struct {
	Config  *Config
	Sources map[string]ConfigSource
	// Files lists the config files that were read, lowest priority first.
	Files []string
	// Unknown lists keys found in config files that no field uses.
	Unknown []string
}

// Default values.
const (
	DefaultStorage        = kv.BackendFile
	DefaultDataDir        = "~/.todos/data"
	DefaultSQLiteFile     = "todos.db"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisPrefix    = "todos:"
	DefaultKey            = "todos"
	DefaultIDStrategy     = string(todo.IDLength)
	DefaultLogDir         = "~/.todos/logs"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultRetryAttempts  = 3
	DefaultRetryDelayMS   = 200
	DefaultWriteTimeoutMS = 5000
)

// Config holds the full configuration for todos.
type Config struct {
	// Storage backend: file, sqlite, redis or memory.
	Storage string `toml:"storage"`

	// Backend locations
	DataDir    string      `toml:"data_dir"`
	SQLitePath string      `toml:"sqlite_path"`
	Redis      RedisConfig `toml:"redis"`

	// Key the task list is stored under
	Key string `toml:"key"`

	// How new task ids are assigned: length or max
	IDStrategy string `toml:"id_strategy"`

	// Write retries
	RetryAttempts  int `toml:"retry_attempts"`
	RetryDelayMS   int `toml:"retry_delay_ms"`
	WriteTimeoutMS int `toml:"write_timeout_ms"`

	// Logging configuration
	LogDir        string `toml:"log_dir"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogTimestamps bool   `toml:"log_timestamps"`
	LogCaller     bool   `toml:"log_caller"`
}

// RedisConfig holds the redis backend settings.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// KVConfig returns the settings for kv.Open.
func (c *Config) KVConfig() kv.Config {
	return kv.Config{
		Backend:       c.Storage,
		Dir:           c.DataDir,
		SQLitePath:    c.SQLitePath,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		RedisPrefix:   c.Redis.Prefix,
	}
}

// IDs returns the parsed id strategy. The config is validated on load, so an
// unparsable value only shows up on hand-built configs and falls back to the
// default.
func (c *Config) IDs() todo.IDStrategy {
	s, err := todo.ParseIDStrategy(c.IDStrategy)
	if err != nil {
		return todo.IDLength
	}
	return s
}

// RetryDelay returns the first delay between write attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// WriteTimeout returns the bound on a single backend write.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// Scope names the stored list, for log directories and messages.
func (c *Config) Scope() string {
	switch c.Storage {
	case kv.BackendSQLite:
		return fmt.Sprintf("sqlite:%s#%s", c.SQLitePath, c.Key)
	case kv.BackendRedis:
		return fmt.Sprintf("redis:%s/%d#%s", c.Redis.Addr, c.Redis.DB, c.Key)
	case kv.BackendMemory:
		return "memory#" + c.Key
	default:
		return fmt.Sprintf("file:%s#%s", c.DataDir, c.Key)
	}
}
