package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nibzard/todos/internal/kv"
	"github.com/nibzard/todos/internal/logging"
	"github.com/nibzard/todos/internal/todo"
)

// Load loads configuration from multiple sources in priority order:
// 1. Defaults
// 2. User config file (~/.todos/todos.toml or OS-specific config dir)
// 3. Project config file (todos.toml or .todos.toml in current directory)
// 4. Environment variables
// 5. CLI flags
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	cws, err := LoadWithSources(fs, args)
	if err != nil {
		return nil, err
	}
	return cws.Config, nil
}

// LoadWithSources loads configuration and tracks the source of each value.
func LoadWithSources(fs *flag.FlagSet, args []string) (*ConfigWithSources, error) {
	cws := &ConfigWithSources{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}
	cfg := cws.Config

	// 1. Set defaults (all fields start with default source)
	setDefaults(cfg)
	for _, field := range configFields() {
		cws.Sources[field] = SourceDefault
	}

	// 2. Try to load from user config file
	if path := findUserConfigFile(); path != "" {
		if err := loadConfigFileWithSources(cws, path, SourceUserFile); err != nil {
			return nil, fmt.Errorf("loading user config file %s: %w", path, err)
		}
	}

	// 3. Try to load from project config file (overrides user config)
	if path := findProjectConfigFile(); path != "" {
		if err := loadConfigFileWithSources(cws, path, SourceProjFile); err != nil {
			return nil, fmt.Errorf("loading project config file %s: %w", path, err)
		}
	}

	// 4. Override from environment
	if err := loadFromEnv(cfg, cws.Sources); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	// 5. Parse CLI flags (they override everything)
	if err := parseFlags(cfg, fs, args, cws.Sources); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// 6. Compute derived values
	if err := finalizeConfig(cfg); err != nil {
		return nil, fmt.Errorf("finalizing config: %w", err)
	}

	return cws, nil
}

// configFields returns the configurable field names for source tracking,
// in TOML dotted-key form.
func configFields() []string {
	return []string{
		"storage",
		"data_dir",
		"sqlite_path",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.prefix",
		"key",
		"id_strategy",
		"retry_attempts",
		"retry_delay_ms",
		"write_timeout_ms",
		"log_dir",
		"log_level",
		"log_format",
		"log_timestamps",
		"log_caller",
	}
}

// loadConfigFile loads TOML config from the given file.
func loadConfigFile(cfg *Config, path string) (toml.MetaData, error) {
	return toml.DecodeFile(path, cfg)
}

// loadConfigFileWithSources loads TOML config and records which keys the
// file defined.
func loadConfigFileWithSources(cws *ConfigWithSources, path string, source ConfigSource) error {
	md, err := loadConfigFile(cws.Config, path)
	if err != nil {
		return err
	}
	cws.Files = append(cws.Files, path)

	for _, field := range configFields() {
		if md.IsDefined(strings.Split(field, ".")...) {
			cws.Sources[field] = source
		}
	}
	for _, key := range md.Undecoded() {
		cws.Unknown = append(cws.Unknown, fmt.Sprintf("%s: %s", path, key.String()))
	}
	return nil
}

// finalizeConfig computes derived values and validates names.
func finalizeConfig(cfg *Config) error {
	cfg.Storage = kv.NormalizeBackend(cfg.Storage)
	if !isKnownBackend(cfg.Storage) {
		return fmt.Errorf("%w %q (expected %s)", kv.ErrUnknownBackend, cfg.Storage, strings.Join(kv.Backends(), "|"))
	}

	ids, err := todo.ParseIDStrategy(cfg.IDStrategy)
	if err != nil {
		return err
	}
	cfg.IDStrategy = string(ids)

	cfg.Key = strings.TrimSpace(cfg.Key)
	if cfg.Key == "" {
		return fmt.Errorf("key is empty")
	}

	if cfg.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must not be negative, got %d", cfg.RetryAttempts)
	}
	if cfg.RetryDelayMS < 0 {
		return fmt.Errorf("retry_delay_ms must not be negative, got %d", cfg.RetryDelayMS)
	}

	if cfg.WriteTimeoutMS <= 0 {
		return fmt.Errorf("write_timeout_ms must be positive, got %d", cfg.WriteTimeoutMS)
	}

	if !logging.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("unknown log level %q (expected debug|info|warn|error|fatal)", cfg.LogLevel)
	}
	if !logging.ValidFormat(cfg.LogFormat) {
		return fmt.Errorf("unknown log format %q (expected text|json|logfmt)", cfg.LogFormat)
	}

	// Expand ~ in paths
	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.LogDir = expandPath(cfg.LogDir)
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, DefaultSQLiteFile)
	} else if cfg.SQLitePath != ":memory:" {
		cfg.SQLitePath = expandPath(cfg.SQLitePath)
	}

	return nil
}

func isKnownBackend(name string) bool {
	for _, b := range kv.Backends() {
		if b == name {
			return true
		}
	}
	return false
}
