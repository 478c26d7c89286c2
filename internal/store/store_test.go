package store

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nibzard/todos/internal/kv"
	"github.com/nibzard/todos/internal/todo"
)

// testBackend wraps a memory store with failure injection and a write log.
type testBackend struct {
	*kv.MemoryStore

	mu       sync.Mutex
	failures int           // remaining Set calls to fail
	getErr   error         // returned by Get when set
	gate     chan struct{} // when non-nil, Set waits for it to close
	sets     [][]byte
}

func newTestBackend() *testBackend {
	return &testBackend{MemoryStore: kv.NewMemoryStore()}
}

func (b *testBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	err := b.getErr
	b.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return b.MemoryStore.Get(ctx, key)
}

func (b *testBackend) Set(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	if b.failures > 0 {
		b.failures--
		b.mu.Unlock()
		return errors.New("disk full")
	}
	b.sets = append(b.sets, append([]byte(nil), value...))
	b.mu.Unlock()
	return b.MemoryStore.Set(ctx, key, value)
}

func (b *testBackend) setFailures(n int) {
	b.mu.Lock()
	b.failures = n
	b.mu.Unlock()
}

func (b *testBackend) writes() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.sets...)
}

func (b *testBackend) stored(t *testing.T) todo.List {
	t.Helper()
	data, ok, err := b.MemoryStore.Get(context.Background(), DefaultKey)
	if err != nil {
		t.Fatalf("backend get: %v", err)
	}
	if !ok {
		t.Fatal("nothing stored")
	}
	l, err := todo.Decode(data)
	if err != nil {
		t.Fatalf("decode stored value: %v", err)
	}
	return l
}

func newTestStore(t *testing.T, backend kv.Store, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithRetry(3, time.Millisecond)}, opts...)
	s := New(backend, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s
}

// newLoadedStore returns a store that has loaded backend's current value.
func newLoadedStore(t *testing.T, backend kv.Store, opts ...Option) *Store {
	t.Helper()
	s := newTestStore(t, backend, opts...)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
}

func TestScenarioEmptyStore(t *testing.T) {
	s := newTestStore(t, newTestBackend())
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := s.Tasks(); got.Len() != 0 {
		t.Fatalf("Tasks: got %+v, want empty", got)
	}
	if got := todo.CountLabel(s.Tasks().Len()); got != "0 tasks" {
		t.Errorf("CountLabel: got %q, want %q", got, "0 tasks")
	}
	if s.SyncState().Dirty() {
		t.Error("loading must not mark the store dirty")
	}
}

func TestScenarioCreateAndToggle(t *testing.T) {
	backend := newTestBackend()
	s := newTestStore(t, backend)
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	task, err := s.Create("Buy milk", "2%")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	want := todo.List{{ID: 1, Title: "Buy milk", Description: "2%", Completed: false}}
	if task != want[0] {
		t.Errorf("returned task: got %+v, want %+v", task, want[0])
	}
	if got := s.Tasks(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Tasks: got %+v, want %+v", got, want)
	}
	if got := todo.CountLabel(s.Tasks().Len()); got != "1 task" {
		t.Errorf("CountLabel: got %q, want %q", got, "1 task")
	}

	flush(t, s)
	if got := backend.stored(t); !reflect.DeepEqual(got, want) {
		t.Errorf("stored: got %+v, want %+v", got, want)
	}

	if !s.ToggleCompleted(1) {
		t.Fatal("ToggleCompleted(1) reported no match")
	}
	tasks := s.Tasks()
	if !tasks[0].Completed {
		t.Fatalf("task 1 should be completed: %+v", tasks[0])
	}
	incomplete, completed := tasks.Partition()
	if incomplete.Len() != 0 || completed.Len() != 1 || completed[0].ID != 1 {
		t.Errorf("partition: incomplete=%+v completed=%+v", incomplete, completed)
	}

	flush(t, s)
	if got := backend.stored(t); !got[0].Completed {
		t.Errorf("stored toggle missing: %+v", got)
	}
}

func TestScenarioTwoCreatesMostRecentFirst(t *testing.T) {
	s := newLoadedStore(t, newTestBackend())

	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("C", "D"); err != nil {
		t.Fatal(err)
	}

	want := todo.List{
		{ID: 2, Title: "C", Description: "D"},
		{ID: 1, Title: "A", Description: "B"},
	}
	if got := s.Tasks(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tasks: got %+v, want %+v", got, want)
	}
}

func TestCreateRejectsBlankFields(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
	}{
		{"empty title", "", "x"},
		{"empty description", "x", ""},
		{"both empty", "", ""},
		{"whitespace title", "  \t", "x"},
		{"whitespace description", "x", "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend()
			s := newLoadedStore(t, backend)
			if _, err := s.Create("seed", "seed"); err != nil {
				t.Fatal(err)
			}
			flush(t, s)
			before := s.Tasks()
			state := s.SyncState()

			_, err := s.Create(tt.title, tt.description)
			if !errors.Is(err, ErrIncomplete) {
				t.Fatalf("expected ErrIncomplete, got %v", err)
			}
			if got := s.Tasks(); !reflect.DeepEqual(got, before) {
				t.Errorf("list changed: got %+v, want %+v", got, before)
			}
			if s.SyncState().Version != state.Version {
				t.Error("rejected create must not queue a write")
			}
			if len(backend.writes()) != 1 {
				t.Errorf("writes: got %d, want 1", len(backend.writes()))
			}
		})
	}
}

func TestCreateKeepsFieldsAsEntered(t *testing.T) {
	s := newLoadedStore(t, newTestBackend())
	task, err := s.Create("  padded ", "line one\nline two")
	if err != nil {
		t.Fatal(err)
	}
	if task.Title != "  padded " || task.Description != "line one\nline two" {
		t.Errorf("fields altered: %+v", task)
	}
}

func TestCreateGrowsByOneAtFront(t *testing.T) {
	s := newLoadedStore(t, newTestBackend())
	for i := 0; i < 10; i++ {
		before := s.Tasks()
		task, err := s.Create("title", "description")
		if err != nil {
			t.Fatal(err)
		}
		after := s.Tasks()
		if after.Len() != before.Len()+1 {
			t.Fatalf("Len: got %d, want %d", after.Len(), before.Len()+1)
		}
		if after[0] != task || task.Completed {
			t.Fatalf("front: got %+v, want %+v", after[0], task)
		}
		if !reflect.DeepEqual(after[1:], before) {
			t.Fatalf("tail changed")
		}
	}
}

func TestToggleUnknownIDIsNoop(t *testing.T) {
	backend := newTestBackend()
	s := newLoadedStore(t, backend)
	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
	flush(t, s)
	before := s.Tasks()
	version := s.SyncState().Version

	if s.ToggleCompleted(99) {
		t.Error("ToggleCompleted(99) reported a match")
	}
	if got := s.Tasks(); !reflect.DeepEqual(got, before) {
		t.Errorf("list changed: got %+v", got)
	}
	if s.SyncState().Version != version {
		t.Error("no-op toggle must not queue a write")
	}
	flush(t, s)
	if len(backend.writes()) != 1 {
		t.Errorf("writes: got %d, want 1", len(backend.writes()))
	}
}

func TestLoadExistingList(t *testing.T) {
	backend := newTestBackend()
	stored := todo.List{
		{ID: 2, Title: "Pay rent", Description: "Before the 5th", Completed: true},
		{ID: 1, Title: "Buy milk", Description: "2%"},
	}
	data, err := todo.Encode(stored)
	if err != nil {
		t.Fatal(err)
	}
	if err := backend.MemoryStore.Set(context.Background(), DefaultKey, data); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, backend)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := s.Tasks(); !reflect.DeepEqual(got, stored) {
		t.Errorf("Tasks: got %+v, want %+v", got, stored)
	}
}

func TestLoadInvalidPayload(t *testing.T) {
	backend := newTestBackend()
	if err := backend.MemoryStore.Set(context.Background(), DefaultKey, []byte(`{"not":"a list"}`)); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, backend)
	err := s.Load(context.Background())
	if !errors.Is(err, todo.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if s.Tasks().Len() != 0 {
		t.Errorf("list should stay empty, got %+v", s.Tasks())
	}

	// The undecodable payload must survive: nothing may be written over it.
	if s.Loaded() {
		t.Error("store must stay unloaded after a decode failure")
	}
	if _, err := s.Create("X", "Y"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Create after decode failure: got %v, want ErrNotLoaded", err)
	}
	if s.SyncState().Version != 0 {
		t.Error("nothing should be queued for writing")
	}
	data, _, _ := backend.MemoryStore.Get(context.Background(), DefaultKey)
	if string(data) != `{"not":"a list"}` {
		t.Errorf("stored payload changed: %s", data)
	}
}

func TestLoadBackendError(t *testing.T) {
	backend := newTestBackend()
	backend.getErr = errors.New("permission denied")

	s := newTestStore(t, backend)
	err := s.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected backend error, got %v", err)
	}
	if s.Tasks().Len() != 0 {
		t.Errorf("list should stay empty, got %+v", s.Tasks())
	}
	if !s.Loaded() {
		t.Error("a read error leaves the store usable with an empty list")
	}
}

func TestCustomKeyAndReload(t *testing.T) {
	backend := newTestBackend()
	s := newLoadedStore(t, backend, WithKey("groceries"))
	if s.Key() != "groceries" {
		t.Fatalf("Key: got %q", s.Key())
	}
	if _, err := s.Create("Eggs", "A dozen"); err != nil {
		t.Fatal(err)
	}
	flush(t, s)

	if _, ok, _ := backend.MemoryStore.Get(context.Background(), DefaultKey); ok {
		t.Error("default key should be untouched")
	}

	reloaded := newTestStore(t, backend, WithKey("groceries"))
	if err := reloaded.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reloaded.Tasks(), s.Tasks()) {
		t.Errorf("reloaded: got %+v, want %+v", reloaded.Tasks(), s.Tasks())
	}
}

func TestIDStrategyMax(t *testing.T) {
	backend := newTestBackend()
	data, _ := todo.Encode(todo.List{{ID: 7, Title: "a", Description: "b"}})
	if err := backend.MemoryStore.Set(context.Background(), DefaultKey, data); err != nil {
		t.Fatal(err)
	}

	lengthStore := newTestStore(t, backend)
	maxStore := newTestStore(t, backend, WithIDStrategy(todo.IDMax))
	for _, s := range []*Store{lengthStore, maxStore} {
		if err := s.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	a, _ := lengthStore.Create("x", "y")
	b, _ := maxStore.Create("x", "y")
	if a.ID != 2 {
		t.Errorf("length strategy id: got %d, want 2", a.ID)
	}
	if b.ID != 8 {
		t.Errorf("max strategy id: got %d, want 8", b.ID)
	}
}

func TestWriteRetriesThenSucceeds(t *testing.T) {
	backend := newTestBackend()
	backend.setFailures(2)
	s := newLoadedStore(t, backend)

	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
	flush(t, s)

	state := s.SyncState()
	if state.Dirty() || state.LastErr != nil {
		t.Errorf("state after retries: %+v", state)
	}
	if got := backend.stored(t); got.Len() != 1 {
		t.Errorf("stored: %+v", got)
	}
}

func TestWriteGivesUpAndRecovers(t *testing.T) {
	backend := newTestBackend()
	backend.setFailures(100)
	s := newLoadedStore(t, backend, WithRetry(1, time.Millisecond))

	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Flush(ctx)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}

	state := s.SyncState()
	if !state.Dirty() || state.LastErr == nil {
		t.Errorf("expected dirty state with error, got %+v", state)
	}
	if s.Tasks().Len() != 1 {
		t.Error("a failed write must not roll back memory")
	}

	backend.setFailures(0)
	if !s.ToggleCompleted(1) {
		t.Fatal("toggle failed")
	}
	flush(t, s)
	state = s.SyncState()
	if state.Dirty() || state.LastErr != nil {
		t.Errorf("expected clean state, got %+v", state)
	}
	if got := backend.stored(t); got.Len() != 1 || !got[0].Completed {
		t.Errorf("stored: %+v", got)
	}
}

func TestMutationsDoNotWaitForWrites(t *testing.T) {
	backend := newTestBackend()
	backend.gate = make(chan struct{})
	s := newLoadedStore(t, backend)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			if _, err := s.Create("title", "description"); err != nil {
				t.Error(err)
			}
		}
		s.ToggleCompleted(3)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mutations blocked on a pending write")
	}

	if s.Tasks().Len() != 5 {
		t.Errorf("Len: got %d, want 5", s.Tasks().Len())
	}
	if !s.SyncState().Dirty() {
		t.Error("expected dirty state while writes are held")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush with held writes: got %v, want deadline exceeded", err)
	}

	close(backend.gate)
	flush(t, s)

	if got := backend.stored(t); !reflect.DeepEqual(got, s.Tasks()) {
		t.Errorf("stored: got %+v, want %+v", got, s.Tasks())
	}
	// Superseded snapshots are coalesced, never written out of order.
	writes := backend.writes()
	if len(writes) == 0 || len(writes) > 6 {
		t.Fatalf("writes: got %d", len(writes))
	}
	last, _ := todo.Decode(writes[len(writes)-1])
	if !reflect.DeepEqual(last, s.Tasks()) {
		t.Errorf("last write: got %+v, want %+v", last, s.Tasks())
	}
	prevLen := 0
	for i, w := range writes {
		l, err := todo.Decode(w)
		if err != nil {
			t.Fatal(err)
		}
		if l.Len() < prevLen {
			t.Errorf("write %d went backwards: %d < %d", i, l.Len(), prevLen)
		}
		prevLen = l.Len()
	}
}

func TestSubscribe(t *testing.T) {
	s := newLoadedStore(t, newTestBackend())
	ch, unsubscribe := s.Subscribe()

	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Len() != 1 || got[0].Title != "A" {
			t.Errorf("snapshot: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	// An unread snapshot is replaced by the newest one.
	s.Create("C", "D")
	s.ToggleCompleted(2)
	select {
	case got := <-ch:
		if got.Len() != 2 || !got[0].Completed {
			t.Errorf("expected newest snapshot, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	unsubscribe()
	unsubscribe()
	s.Create("E", "F")
	select {
	case got, ok := <-ch:
		if ok {
			t.Errorf("received after unsubscribe: %+v", got)
		}
	default:
	}
}

func TestSubscribeLoad(t *testing.T) {
	backend := newTestBackend()
	data, _ := todo.Encode(todo.List{{ID: 1, Title: "a", Description: "b"}})
	backend.MemoryStore.Set(context.Background(), DefaultKey, data)

	s := newTestStore(t, backend)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if got.Len() != 1 {
			t.Errorf("snapshot: %+v", got)
		}
	default:
		t.Fatal("Load should publish a snapshot")
	}
}

func TestSnapshotsAreIndependent(t *testing.T) {
	s := newLoadedStore(t, newTestBackend())
	s.Create("A", "B")

	snap := s.Tasks()
	snap[0].Title = "mutated"
	if s.Tasks()[0].Title != "A" {
		t.Error("Tasks must return a copy")
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	backend := newTestBackend()
	backend.setFailures(1)

	s := newLoadedStore(t, backend, WithLogger(logger))
	s.Create("A", "B")
	flush(t, s)

	out := buf.String()
	for _, want := range []string{"task created", "write failed, retrying", "tasks stored"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(newTestBackend())
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Create("A", "B")
	ctx := context.Background()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestMutationsBeforeLoadAreRefused(t *testing.T) {
	backend := newTestBackend()
	data, _ := todo.Encode(todo.List{{ID: 1, Title: "Existing", Description: "kept"}})
	if err := backend.MemoryStore.Set(context.Background(), DefaultKey, data); err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, backend)

	if _, err := s.Create("X", "Y"); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Create before Load: got %v, want ErrNotLoaded", err)
	}
	if s.ToggleCompleted(1) {
		t.Error("ToggleCompleted before Load reported a match")
	}
	if s.SyncState().Version != 0 || s.Tasks().Len() != 0 {
		t.Fatalf("refused mutations changed state: %+v %+v", s.SyncState(), s.Tasks())
	}

	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	task, err := s.Create("X", "Y")
	if err != nil {
		t.Fatal(err)
	}
	if task.ID != 2 {
		t.Errorf("id: got %d, want 2", task.ID)
	}
	flush(t, s)

	want := todo.List{
		{ID: 2, Title: "X", Description: "Y"},
		{ID: 1, Title: "Existing", Description: "kept"},
	}
	if got := backend.stored(t); !reflect.DeepEqual(got, want) {
		t.Errorf("stored: got %+v, want %+v", got, want)
	}
}

func TestLoadOnlyOnce(t *testing.T) {
	backend := newTestBackend()
	s := newLoadedStore(t, backend)
	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
	flush(t, s)

	data, _ := todo.Encode(todo.List{{ID: 9, Title: "other", Description: "writer"}})
	if err := backend.MemoryStore.Set(context.Background(), DefaultKey, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Tasks(); got.Len() != 1 || got[0].Title != "A" {
		t.Errorf("a second Load must not replace the list, got %+v", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := newLoadedStore(t, newTestBackend())
	ch, unsubscribe := s.Subscribe()
	unsubscribe()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected a closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
	unsubscribe()
	if _, err := s.Create("A", "B"); err != nil {
		t.Fatal(err)
	}
}
