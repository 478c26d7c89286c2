// Package store owns the canonical task list and keeps it persisted.
//
// Every mutation publishes a new immutable snapshot synchronously and hands
// the full list to a background writer. Callers never wait for the write.
// The writer issues Set calls one at a time in mutation order, coalescing
// snapshots that were superseded before it got to them, so the stored value
// always converges on the newest in-memory list.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nibzard/todos/internal/kv"
	"github.com/nibzard/todos/internal/todo"
)

// DefaultKey is the key the task list is stored under.
const DefaultKey = "todos"

// IncompleteMessage is shown to the user when Create is rejected.
const IncompleteMessage = "Please enter all the details."

var (
	// ErrIncomplete is returned by Create when the title or description is blank.
	ErrIncomplete = errors.New("title and description are required")
	// ErrNotLoaded is returned by Create until Load has run.
	ErrNotLoaded = errors.New("tasks not loaded yet")
)

// Default write pipeline settings.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 200 * time.Millisecond
	DefaultWriteTimeout  = 5 * time.Second
)

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithIDStrategy sets how new task ids are assigned.
func WithIDStrategy(strategy todo.IDStrategy) Option {
	return func(s *Store) {
		s.ids = strategy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetry sets how many times a failed write is retried and the first
// delay between attempts. The delay doubles after each failure.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Store) {
		if attempts >= 0 {
			s.retryAttempts = attempts
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// WithWriteTimeout bounds a single Set call.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// SyncState reports how far persistence has caught up with memory.
type SyncState struct {
	Version uint64 // bumped by every mutation
	Synced  uint64 // newest version known to be stored
	LastErr error  // error of the last write that gave up, nil after a success
}

// Dirty reports whether the newest snapshot has not been stored yet.
func (s SyncState) Dirty() bool {
	return s.Synced < s.Version
}

// Store is the single source of truth for the task list.
type Store struct {
	backend       kv.Store
	key           string
	ids           todo.IDStrategy
	logger        *log.Logger
	retryAttempts int
	retryDelay    time.Duration
	writeTimeout  time.Duration

	mu      sync.Mutex
	loaded  bool
	tasks   todo.List
	version uint64
	synced  uint64
	failed  uint64
	lastErr error
	changed chan struct{} // closed and replaced whenever sync state moves
	pending *snapshot
	subs    map[int]chan todo.List
	nextSub int

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type snapshot struct {
	version uint64
	tasks   todo.List
}

// New creates a store on top of backend and starts its writer.
func New(backend kv.Store, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:       backend,
		key:           DefaultKey,
		ids:           todo.IDLength,
		logger:        log.New(io.Discard),
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
		writeTimeout:  DefaultWriteTimeout,
		tasks:         todo.List{},
		changed:       make(chan struct{}),
		subs:          make(map[int]chan todo.List),
		wake:          make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Key returns the storage key.
func (s *Store) Key() string {
	return s.key
}

// Load reads the stored list. A key that was never written leaves the list
// empty. Mutations are refused until Load has run, so nothing is written over
// a list that was never read.
//
// A backend read error is returned and the store continues with an empty
// list. A payload that cannot be decoded is returned as well, but the store
// stays unloaded and keeps refusing mutations. Once loaded, further calls do
// nothing.
func (s *Store) Load(ctx context.Context) error {
	if s.isLoaded() {
		return nil
	}

	data, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		s.markLoaded(nil)
		return fmt.Errorf("load %s: %w", s.key, err)
	}
	if !ok {
		s.logger.Debug("no stored tasks", "key", s.key)
		s.markLoaded(nil)
		return nil
	}

	tasks, err := todo.Decode(data)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.key, err)
	}

	if s.markLoaded(tasks) {
		s.logger.Debug("loaded tasks", "key", s.key, "count", tasks.Len())
	}
	return nil
}

// Loaded reports whether Load has run and mutations are accepted.
func (s *Store) Loaded() bool {
	return s.isLoaded()
}

func (s *Store) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// markLoaded installs tasks as the loaded list. It reports false when a
// concurrent Load got there first.
func (s *Store) markLoaded(tasks todo.List) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return false
	}
	s.loaded = true
	if tasks != nil {
		s.tasks = tasks
		s.publishLocked()
	}
	return true
}

// Tasks returns the current list.
func (s *Store) Tasks() todo.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks.Clone()
}

// Create prepends a new incomplete task. Title and description are stored as
// given, but both must contain more than whitespace. Before Load has run it
// returns ErrNotLoaded.
func (s *Store) Create(title, description string) (todo.Task, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" {
		return todo.Task{}, ErrIncomplete
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return todo.Task{}, ErrNotLoaded
	}
	task := todo.Task{
		ID:          s.tasks.NextID(s.ids),
		Title:       title,
		Description: description,
		Completed:   false,
	}
	s.tasks = s.tasks.Prepend(task)
	s.commitLocked()
	s.mu.Unlock()

	s.logger.Debug("task created", "id", task.ID)
	return task, nil
}

// ToggleCompleted inverts the completed flag of task id. It reports false and
// writes nothing when no task has that id or the list is not loaded yet.
func (s *Store) ToggleCompleted(id int) bool {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		s.logger.Debug("toggle ignored, tasks not loaded", "id", id)
		return false
	}
	tasks, found := s.tasks.Toggle(id)
	if !found {
		s.mu.Unlock()
		s.logger.Debug("toggle ignored, no such task", "id", id)
		return false
	}
	s.tasks = tasks
	s.commitLocked()
	s.mu.Unlock()

	s.logger.Debug("task toggled", "id", id)
	return true
}

// Subscribe returns a channel that receives every new snapshot. The channel
// holds at most one value; a slow reader only sees the newest list. The
// returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan todo.List, func()) {
	ch := make(chan todo.List, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// SyncState returns the current persistence state.
func (s *Store) SyncState() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncState{Version: s.version, Synced: s.synced, LastErr: s.lastErr}
}

// Flush waits until the newest snapshot has been stored, or the writer gave
// up on it, or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	for {
		s.mu.Lock()
		target := s.version
		if s.synced >= target {
			s.mu.Unlock()
			return nil
		}
		if s.failed >= target && s.lastErr != nil {
			err := s.lastErr
			s.mu.Unlock()
			return err
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close flushes and stops the writer. It does not close the backend.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return err
}

// commitLocked publishes the current list and queues it for writing.
func (s *Store) commitLocked() {
	s.version++
	s.pending = &snapshot{version: s.version, tasks: s.tasks}
	s.publishLocked()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) publishLocked() {
	for _, ch := range s.subs {
		snap := s.tasks.Clone()
		select {
		case ch <- snap:
		default:
			// Replace the unread snapshot with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Store) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// run is the writer loop.
func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		s.mu.Unlock()
		if snap == nil {
			continue
		}

		err := s.persist(snap)

		s.mu.Lock()
		if err == nil {
			if snap.version > s.synced {
				s.synced = snap.version
			}
			s.lastErr = nil
		} else {
			s.failed = snap.version
			s.lastErr = err
		}
		s.signalLocked()
		s.mu.Unlock()
	}
}

// persist writes one snapshot, retrying with a doubling delay.
func (s *Store) persist(snap *snapshot) error {
	data, err := todo.Encode(snap.tasks)
	if err != nil {
		s.logger.Error("encode failed", "version", snap.version, "err", err)
		return err
	}

	delay := s.retryDelay
	for attempt := 0; ; attempt++ {
		err = s.set(data)
		if err == nil {
			s.logger.Debug("tasks stored", "key", s.key, "version", snap.version, "bytes", len(data))
			return nil
		}
		if attempt >= s.retryAttempts || s.ctx.Err() != nil {
			break
		}

		s.logger.Warn("write failed, retrying", "key", s.key, "version", snap.version, "attempt", attempt+1, "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
		}
		delay *= 2
	}

	s.logger.Error("write failed", "key", s.key, "version", snap.version, "err", err)
	return fmt.Errorf("store %s: %w", s.key, err)
}

func (s *Store) set(data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
	defer cancel()
	return s.backend.Set(ctx, s.key, data)
}
