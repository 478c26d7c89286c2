package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// findProjectConfigFile looks for a config file in the current directory.
func findProjectConfigFile() string {
	names := []string{"todos.toml", ".todos.toml"}
	for _, name := range names {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// findUserConfigFile looks for a user-level config file.
// Checks ~/.todos/todos.toml first, then falls back to OS-specific
// config directories if ~/.todos doesn't have one.
func findUserConfigFile() string {
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".todos", "todos.toml")
		if _, err := os.Stat(userConfigPath); err == nil {
			return userConfigPath
		}
	}

	if cfgDir := osUserConfigDir(); cfgDir != "" {
		userConfigPath := filepath.Join(cfgDir, "todos", "todos.toml")
		if _, err := os.Stat(userConfigPath); err == nil {
			return userConfigPath
		}
	}

	return ""
}

// osUserConfigDir returns the OS-specific user config directory.
// Returns empty string if the directory cannot be determined.
func osUserConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return appdata
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, "Library", "Application Support")
		}
	case "linux", "openbsd", "freebsd", "netbsd":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return xdg
		}
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, ".config")
		}
	}
	return ""
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	cfg.Storage = DefaultStorage
	cfg.DataDir = DefaultDataDir
	cfg.SQLitePath = ""
	cfg.Redis = RedisConfig{
		Addr:   DefaultRedisAddr,
		Prefix: DefaultRedisPrefix,
	}
	cfg.Key = DefaultKey
	cfg.IDStrategy = DefaultIDStrategy
	cfg.RetryAttempts = DefaultRetryAttempts
	cfg.RetryDelayMS = DefaultRetryDelayMS
	cfg.WriteTimeoutMS = DefaultWriteTimeoutMS
	cfg.LogDir = DefaultLogDir
	cfg.LogLevel = DefaultLogLevel
	cfg.LogFormat = DefaultLogFormat
	cfg.LogTimestamps = true
	cfg.LogCaller = false
}

// GetConfigFile returns the highest priority config file that was read.
func (cws *ConfigWithSources) GetConfigFile() string {
	if len(cws.Files) == 0 {
		return ""
	}
	return cws.Files[len(cws.Files)-1]
}

// Entry is one effective configuration value and where it came from.
type Entry struct {
	Key    string
	Value  string
	Source ConfigSource
}

// Entries returns every configurable value in file order. Secrets are masked.
func (cws *ConfigWithSources) Entries() []Entry {
	c := cws.Config
	values := map[string]string{
		"storage":          c.Storage,
		"data_dir":         c.DataDir,
		"sqlite_path":      c.SQLitePath,
		"redis.addr":       c.Redis.Addr,
		"redis.password":   maskSecret(c.Redis.Password),
		"redis.db":         strconv.Itoa(c.Redis.DB),
		"redis.prefix":     c.Redis.Prefix,
		"key":              c.Key,
		"id_strategy":      c.IDStrategy,
		"retry_attempts":   strconv.Itoa(c.RetryAttempts),
		"retry_delay_ms":   strconv.Itoa(c.RetryDelayMS),
		"write_timeout_ms": strconv.Itoa(c.WriteTimeoutMS),
		"log_dir":          c.LogDir,
		"log_level":        c.LogLevel,
		"log_format":       c.LogFormat,
		"log_timestamps":   strconv.FormatBool(c.LogTimestamps),
		"log_caller":       strconv.FormatBool(c.LogCaller),
	}

	entries := make([]Entry, 0, len(values))
	for _, field := range configFields() {
		entries = append(entries, Entry{Key: field, Value: values[field], Source: cws.Sources[field]})
	}
	return entries
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
