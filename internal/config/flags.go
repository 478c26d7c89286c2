package config

import (
	"flag"
	"strings"

	"github.com/nibzard/todos/internal/kv"
)

// flagToSource maps flag names to source field names.
var flagToSource = map[string]string{
	"storage":          "storage",
	"data-dir":         "data_dir",
	"sqlite-path":      "sqlite_path",
	"redis-addr":       "redis.addr",
	"redis-db":         "redis.db",
	"redis-prefix":     "redis.prefix",
	"key":              "key",
	"id-strategy":      "id_strategy",
	"retry-attempts":   "retry_attempts",
	"retry-delay-ms":   "retry_delay_ms",
	"write-timeout-ms": "write_timeout_ms",
	"log-dir":          "log_dir",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"log-timestamps":   "log_timestamps",
	"log-caller":       "log_caller",
}

// parseFlags defines and parses the global CLI flags. Values are bound to the
// config directly, so a flag left unset keeps the value from earlier layers.
// If sources is non-nil, it tracks the source of each flag that was set.
func parseFlags(cfg *Config, fs *flag.FlagSet, args []string, sources map[string]ConfigSource) error {
	if fs == nil {
		fs = flag.NewFlagSet("todos", flag.ContinueOnError)
	}

	// Storage
	fs.StringVar(&cfg.Storage, "storage", cfg.Storage, "Storage backend ("+strings.Join(kv.Backends(), "|")+")")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory for the file backend")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path (default <data-dir>/todos.db)")
	fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address")
	fs.IntVar(&cfg.Redis.DB, "redis-db", cfg.Redis.DB, "Redis database number")
	fs.StringVar(&cfg.Redis.Prefix, "redis-prefix", cfg.Redis.Prefix, "Prefix for Redis keys")
	fs.StringVar(&cfg.Key, "key", cfg.Key, "Key the task list is stored under")

	// Tasks
	fs.StringVar(&cfg.IDStrategy, "id-strategy", cfg.IDStrategy, "Task id assignment (length|max)")

	// Writes
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "Retries for a failed write")
	fs.IntVar(&cfg.RetryDelayMS, "retry-delay-ms", cfg.RetryDelayMS, "First delay between write retries in milliseconds")
	fs.IntVar(&cfg.WriteTimeoutMS, "write-timeout-ms", cfg.WriteTimeoutMS, "Bound on a single write in milliseconds")

	// Logging
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Log directory")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json, logfmt)")
	fs.BoolVar(&cfg.LogTimestamps, "log-timestamps", cfg.LogTimestamps, "Show timestamps in logs")
	fs.BoolVar(&cfg.LogCaller, "log-caller", cfg.LogCaller, "Show caller location in logs")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if sources != nil {
		fs.Visit(func(f *flag.Flag) {
			if field, ok := flagToSource[f.Name]; ok {
				sources[field] = SourceFlag
			}
		})
	}
	return nil
}
