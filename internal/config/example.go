package config

// ExampleConfig returns an example configuration showing all available options.
func ExampleConfig() string {
	return `# todos configuration file
# Values can be overridden by TODOS_* environment variables or CLI flags

# Storage backend: file, sqlite, redis or memory
storage = "file"

# Directory for the file backend (supports ~ expansion and %VAR% on Windows)
data_dir = "~/.todos/data"

# SQLite database for the sqlite backend (default: <data_dir>/todos.db)
# sqlite_path = "~/.todos/data/todos.db"

# Key the task list is stored under
key = "todos"

# Task id assignment: "length" (list length + 1) or "max" (highest id + 1)
id_strategy = "length"

# Retries for a failed write, and the first delay between them (doubles)
retry_attempts = 3
retry_delay_ms = 200

# Bound on a single write in milliseconds
write_timeout_ms = 5000

# Log directory; each run writes one file
log_dir = "~/.todos/logs"

# Logging: debug, info, warn, error / text, json, logfmt
log_level = "info"
log_format = "text"
log_timestamps = true
log_caller = false

[redis]
addr = "localhost:6379"
# password = ""
db = 0
prefix = "todos:"
`
}
