// Package cmd implements the CLI command structure for todos.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nibzard/todos/internal/config"
	"github.com/nibzard/todos/internal/kv"
	"github.com/nibzard/todos/internal/logging"
	"github.com/nibzard/todos/internal/store"
	"github.com/nibzard/todos/internal/todo"
	"github.com/nibzard/todos/internal/ui"
)

// Version is set via ldflags at build time.
var Version = "dev"

// flushTimeout bounds how long a one-shot command waits for its write.
const flushTimeout = 10 * time.Second

// cli carries the output streams of one invocation.
type cli struct {
	stdout io.Writer
	stderr io.Writer
}

// Run executes the todos CLI.
func Run(ctx context.Context, args []string) error {
	c := &cli{stdout: os.Stdout, stderr: os.Stderr}
	return c.run(ctx, args)
}

func (c *cli) run(ctx context.Context, args []string) error {
	// Create a flag set for global options
	fs := flag.NewFlagSet("todos", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() {
		printUsage(fs, c.stderr)
	}
	help := fs.Bool("help", false, "Show help")
	fs.BoolVar(help, "h", false, "Show help")
	showVersion := fs.Bool("version", false, "Show version")
	fs.BoolVar(showVersion, "v", false, "Show version")

	// Global flags
	cws, err := config.LoadWithSources(fs, args)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *help {
		printUsage(fs, c.stdout)
		return nil
	}
	if *showVersion {
		return c.versionCommand()
	}
	cfg := cws.Config

	// Determine the subcommand
	// If no args or first arg is a flag, use "tui" as default
	subcommand := "tui"
	remainingArgs := fs.Args()
	if len(remainingArgs) > 0 {
		if !strings.HasPrefix(remainingArgs[0], "-") {
			subcommand = remainingArgs[0]
			remainingArgs = remainingArgs[1:]
		}
	}

	switch subcommand {
	case "tui":
		return c.tuiCommand(ctx, cfg, remainingArgs)
	case "ls", "list":
		return c.lsCommand(ctx, cfg, remainingArgs)
	case "add":
		return c.addCommand(ctx, cfg, remainingArgs)
	case "toggle":
		return c.toggleCommand(ctx, cfg, remainingArgs)
	case "show":
		return c.showCommand(ctx, cfg, remainingArgs)
	case "schema":
		return c.schemaCommand(remainingArgs)
	case "config":
		return c.configCommand(cws, remainingArgs)
	case "doctor":
		return c.doctorCommand(ctx, cws, remainingArgs)
	case "tail":
		return c.tailCommand(ctx, cfg, remainingArgs)
	case "version":
		return c.versionCommand()
	case "help":
		printUsage(fs, c.stdout)
		return nil
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", subcommand)
		printUsage(fs, c.stderr)
		return fmt.Errorf("unknown command: %s", subcommand)
	}
}

// session is an open backend with a store on top of it.
type session struct {
	backend kv.Store
	store   *store.Store
}

// openSession opens the configured backend and wraps it in a store. The list
// is not loaded.
func openSession(ctx context.Context, cfg *config.Config, logger *log.Logger) (*session, error) {
	backend, err := kv.Open(ctx, cfg.KVConfig())
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage, err)
	}
	s := store.New(backend,
		store.WithKey(cfg.Key),
		store.WithIDStrategy(cfg.IDs()),
		store.WithRetry(cfg.RetryAttempts, cfg.RetryDelay()),
		store.WithWriteTimeout(cfg.WriteTimeout()),
		store.WithLogger(logger),
	)
	return &session{backend: backend, store: s}, nil
}

// close flushes pending writes and releases the backend.
func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	err := s.store.Close(ctx)
	if cerr := s.backend.Close(); err == nil {
		err = cerr
	}
	return err
}

// loadSession opens a session and loads the stored list.
func (c *cli) loadSession(ctx context.Context, cfg *config.Config) (*session, error) {
	sess, err := openSession(ctx, cfg, c.logger(cfg))
	if err != nil {
		return nil, err
	}
	if err := sess.store.Load(ctx); err != nil {
		_ = sess.close()
		return nil, fmt.Errorf("loading tasks: %w", err)
	}
	return sess, nil
}

// logger builds the console logger for one-shot commands.
func (c *cli) logger(cfg *config.Config) *log.Logger {
	return logging.New(c.stderr, loggerOptions(cfg))
}

func loggerOptions(cfg *config.Config) logging.Options {
	return logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		Timestamps: cfg.LogTimestamps,
		Caller:     cfg.LogCaller,
	}
}

// tuiCommand launches the TUI. Logs go to a run log file because the screen
// owns the terminal.
func (c *cli) tuiCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("todos tui", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	inline := fs.Bool("inline", false, "Render inline instead of using the alternate screen")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	runLog, err := logging.NewRunLogger(cfg.LogDir, cfg.Scope())
	if err != nil {
		return fmt.Errorf("creating run log: %w", err)
	}
	defer runLog.Close()

	opts := loggerOptions(cfg)
	opts.Prefix = "tui"
	logger := logging.New(runLog.Writer(), opts)
	logger.Info("starting", "version", Version, "storage", cfg.Storage, "key", cfg.Key)

	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := ui.RunTUI(ctx, sess.store,
		ui.WithLogger(logger),
		ui.WithAltScreen(!*inline),
		ui.WithFlushTimeout(flushTimeout),
	)
	if err := sess.close(); err != nil {
		logger.Error("closing storage", "err", err)
	}
	logger.Info("stopped")
	return runErr
}

// lsCommand prints the header and both sections.
func (c *cli) lsCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("todos ls", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	verbose := fs.Bool("v", false, "Show descriptions")
	asJSON := fs.Bool("json", false, "Print the stored list as JSON")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	sess, err := c.loadSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.close()

	if *asJSON {
		data, err := todo.EncodeIndent(sess.store.Tasks())
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, string(data))
		return nil
	}

	ctrl := ui.NewController(sess.store)
	title, subtitle := ctrl.Header()
	fmt.Fprintln(c.stdout, title)
	fmt.Fprintln(c.stdout, subtitle)
	fmt.Fprintln(c.stdout)
	c.printSection("TO DO", ctrl.Incomplete(), *verbose)
	c.printSection("Completed", ctrl.Completed(), *verbose)
	return nil
}

// printSection prints one section, or nothing when it is empty.
func (c *cli) printSection(label string, tasks todo.List, verbose bool) {
	if tasks.Len() == 0 {
		return
	}
	fmt.Fprintf(c.stdout, "%s (%d):\n", label, tasks.Len())
	for _, t := range tasks {
		c.printTask(t, verbose)
	}
	fmt.Fprintln(c.stdout)
}

// printTask prints a single task.
func (c *cli) printTask(t todo.Task, verbose bool) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	fmt.Fprintf(c.stdout, "  [%s] #%d %s\n", mark, t.ID, t.Title)
	if verbose {
		fmt.Fprintf(c.stdout, "      %s\n", t.Description)
	}
}

// addCommand creates a task and waits for it to be stored.
func (c *cli) addCommand(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: todos add <title> <description>")
	}

	sess, err := c.loadSession(ctx, cfg)
	if err != nil {
		return err
	}

	task, err := sess.store.Create(args[0], args[1])
	if err != nil {
		_ = sess.close()
		if errors.Is(err, store.ErrIncomplete) {
			return errors.New(store.IncompleteMessage)
		}
		return err
	}
	if err := sess.close(); err != nil {
		return fmt.Errorf("saving tasks: %w", err)
	}

	fmt.Fprintf(c.stdout, "Added #%d %s\n", task.ID, task.Title)
	return nil
}

// toggleCommand flips the completed flag of one or more tasks. Unknown ids
// are reported and skipped.
func (c *cli) toggleCommand(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: todos toggle <id>...")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	sess, err := c.loadSession(ctx, cfg)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if !sess.store.ToggleCompleted(id) {
			fmt.Fprintf(c.stdout, "No task #%d\n", id)
			continue
		}
		task, _ := sess.store.Tasks().Find(id)
		fmt.Fprintf(c.stdout, "#%d %s: %s\n", task.ID, task.Title, task.StatusLabel())
	}

	if err := sess.close(); err != nil {
		return fmt.Errorf("saving tasks: %w", err)
	}
	return nil
}

// showCommand prints the detail view of one task.
func (c *cli) showCommand(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: todos show <id>")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	sess, err := c.loadSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.close()

	ctrl := ui.NewController(sess.store)
	ctrl.OpenDetail(ids[0])
	task, ok := ctrl.Detail()
	if !ok {
		return fmt.Errorf("no task #%d", ids[0])
	}

	fmt.Fprintln(c.stdout, task.Title)
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, task.Description)
	fmt.Fprintln(c.stdout)
	fmt.Fprintf(c.stdout, "Action: %s (todos toggle %d)\n", ctrl.DetailActionLabel(), task.ID)
	return nil
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(arg), "#"))
		if err != nil {
			return nil, fmt.Errorf("invalid task id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// schemaCommand prints the JSON Schema every stored list must satisfy.
func (c *cli) schemaCommand(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	fmt.Fprintln(c.stdout, strings.TrimSpace(string(todo.BundledSchema())))
	return nil
}

// configCommand prints the example config, or the effective values.
func (c *cli) configCommand(cws *config.ConfigWithSources, args []string) error {
	fs := flag.NewFlagSet("todos config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	show := fs.Bool("show", false, "Show effective values and where they came from")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if !*show {
		fmt.Fprint(c.stdout, config.ExampleConfig())
		return nil
	}

	for _, path := range cws.Files {
		fmt.Fprintf(c.stdout, "# read %s\n", path)
	}
	for _, e := range cws.Entries() {
		fmt.Fprintf(c.stdout, "%-16s = %-30q # %s\n", e.Key, e.Value, e.Source)
	}
	return nil
}

// doctorCommand checks config, storage, stored payload and log directory.
func (c *cli) doctorCommand(ctx context.Context, cws *config.ConfigWithSources, args []string) error {
	fs := flag.NewFlagSet("todos doctor", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	verbose := fs.Bool("v", false, "Verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	cfg := cws.Config
	w := c.stdout

	fmt.Fprintln(w, "Todos Doctor")
	fmt.Fprintln(w, "============")
	fmt.Fprintln(w)

	allOK := true

	// Check config
	fmt.Fprintln(w, "Config:")
	if len(cws.Files) == 0 {
		fmt.Fprintln(w, "  ✅ No config file (defaults)")
	}
	for _, path := range cws.Files {
		fmt.Fprintf(w, "  ✅ Read %s\n", path)
	}
	for _, key := range cws.Unknown {
		fmt.Fprintf(w, "  ⚠️  Unknown key %s\n", key)
	}
	fmt.Fprintf(w, "  ✅ Storage: %s\n", cfg.Storage)
	fmt.Fprintf(w, "  ✅ Key: %s\n", cfg.Key)
	fmt.Fprintf(w, "  ✅ ID strategy: %s\n", cfg.IDStrategy)
	fmt.Fprintln(w)

	// Check storage
	fmt.Fprintf(w, "Storage: %s\n", cfg.Scope())
	backend, err := kv.Open(ctx, cfg.KVConfig())
	if err != nil {
		fmt.Fprintf(w, "  ❌ Error: %v\n", err)
		allOK = false
	} else {
		fmt.Fprintln(w, "  ✅ OK")
		if !c.checkPayload(ctx, backend, cfg.Key, *verbose) {
			allOK = false
		}
		_ = backend.Close()
	}
	fmt.Fprintln(w)

	// Check log directory
	fmt.Fprintf(w, "Log directory: %s\n", cfg.LogDir)
	if info, err := os.Stat(cfg.LogDir); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "  ⚠️  Not found (will be created on first TUI run)")
		} else {
			fmt.Fprintf(w, "  ❌ Error: %v\n", err)
			allOK = false
		}
	} else if !info.IsDir() {
		fmt.Fprintln(w, "  ❌ Error: path is not a directory")
		allOK = false
	} else {
		fmt.Fprintln(w, "  ✅ OK")
	}
	fmt.Fprintln(w)

	if allOK {
		fmt.Fprintln(w, "✅ All checks passed!")
		return nil
	}
	fmt.Fprintln(w, "⚠️  Some checks failed. Todos may not function correctly.")
	return fmt.Errorf("doctor checks failed")
}

// checkPayload validates the value stored under key.
func (c *cli) checkPayload(ctx context.Context, backend kv.Store, key string, verbose bool) bool {
	w := c.stdout
	data, ok, err := backend.Get(ctx, key)
	if err != nil {
		fmt.Fprintf(w, "  ❌ Read error: %v\n", err)
		return false
	}
	if !ok {
		fmt.Fprintln(w, "  ⚠️  Nothing stored yet")
		return true
	}

	if errs := todo.Validate(data); len(errs) > 0 {
		fmt.Fprintln(w, "  ❌ Validation failed:")
		for _, e := range errs {
			fmt.Fprintf(w, "     - %v\n", e)
		}
		return false
	}
	fmt.Fprintln(w, "  ✅ Valid")

	if verbose {
		tasks, err := todo.Decode(data)
		if err != nil {
			fmt.Fprintf(w, "  ❌ Decode error: %v\n", err)
			return false
		}
		fmt.Fprintf(w, "  Tasks: %d (%d to do, %d completed)\n",
			tasks.Len(), tasks.Incomplete().Len(), tasks.Completed().Len())
	}
	return true
}

// tailCommand tails the latest run log of the configured list.
func (c *cli) tailCommand(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("todos tail", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	follow := fs.Bool("f", false, "Follow the log (like tail -f)")
	fs.BoolVar(follow, "follow", false, "Follow the log (like tail -f)")
	n := fs.Int("n", 0, "Number of lines to show (0 = all)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	logDir, err := logging.FindLogDir(cfg.LogDir, cfg.Scope())
	if err != nil {
		return fmt.Errorf("finding log directory: %w", err)
	}

	logPath, err := logging.FindLatestLog(logDir)
	if err != nil {
		return fmt.Errorf("finding latest log: %w", err)
	}
	if logPath == "" {
		fmt.Fprintln(c.stdout, "No log files found.")
		return nil
	}

	fmt.Fprintf(c.stdout, "Tailing: %s\n", logPath)
	if *follow {
		fmt.Fprintln(c.stdout, "(Ctrl+C to stop)")
	}
	fmt.Fprintln(c.stdout)

	return logging.TailLog(ctx, c.stdout, logPath, *n, *follow)
}

// versionCommand prints version information.
func (c *cli) versionCommand() error {
	fmt.Fprintf(c.stdout, "todos version %s\n", Version)
	return nil
}

// printUsage prints the usage message.
func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Todos - A single-screen to-do list")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  todos [options] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  tui                        Launch terminal UI (default command)")
	fmt.Fprintln(w, "  ls                         List tasks")
	fmt.Fprintln(w, "  add <title> <description>  Add a task")
	fmt.Fprintln(w, "  toggle <id>...             Mark tasks completed or in progress")
	fmt.Fprintln(w, "  show <id>                  Show one task")
	fmt.Fprintln(w, "  schema                     Print the JSON Schema of the stored list")
	fmt.Fprintln(w, "  config                     Print an example config file")
	fmt.Fprintln(w, "  doctor                     Check config, storage and stored tasks")
	fmt.Fprintln(w, "  tail                       Tail the latest TUI log file")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w, "  help                       Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tui Options (use with 'tui' command):")
	fmt.Fprintln(w, "  -inline")
	fmt.Fprintln(w, "        Render inline instead of using the alternate screen")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Ls Options (use with 'ls' command):")
	fmt.Fprintln(w, "  -v    Show descriptions")
	fmt.Fprintln(w, "  -json")
	fmt.Fprintln(w, "        Print the stored list as JSON")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config Options (use with 'config' command):")
	fmt.Fprintln(w, "  -show")
	fmt.Fprintln(w, "        Show effective values and where they came from")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Tail Options (use with 'tail' command):")
	fmt.Fprintln(w, "  -f, --follow")
	fmt.Fprintln(w, "        Follow the log (like tail -f)")
	fmt.Fprintln(w, "  -n int")
	fmt.Fprintln(w, "        Number of lines to show (0 = all)")
}
