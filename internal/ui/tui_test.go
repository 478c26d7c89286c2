package ui

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nibzard/todos/internal/kv"
	"github.com/nibzard/todos/internal/store"
	"github.com/nibzard/todos/internal/todo"
)

func newTestModel(t *testing.T, s *store.Store) *tuiModel {
	t.Helper()
	m := newTUIModel(context.Background(), s, lipgloss.NewRenderer(io.Discard))
	t.Cleanup(m.unsubscribe)
	return m
}

// load runs the load command the way the program would.
func load(t *testing.T, m *tuiModel) {
	t.Helper()
	msg := loadCmd(m.ctx, m.store)()
	m.Update(msg)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m *tuiModel, keys ...string) {
	for _, k := range keys {
		m.Update(key(k))
	}
}

func assertContains(t *testing.T, view string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(view, w) {
			t.Errorf("view missing %q:\n%s", w, view)
		}
	}
}

func TestTUILoading(t *testing.T) {
	m := newTestModel(t, newTestStore(t))
	assertContains(t, m.View(), "Loading...")

	load(t, m)
	view := m.View()
	if strings.Contains(view, "Loading...") {
		t.Errorf("still loading:\n%s", view)
	}
	assertContains(t, view, "Hello", "0 tasks for you", "TO DO", "Completed")
}

func TestTUILoadError(t *testing.T) {
	m := newTestModel(t, newTestStore(t))
	m.Update(loadedMsg{err: errors.New("permission denied")})
	assertContains(t, m.View(), "Error loading tasks: permission denied", "TO DO")
}

func TestTUIIgnoresKeysWhileLoading(t *testing.T) {
	backend := kv.NewMemoryStore()
	data, _ := todo.Encode(todo.List{{ID: 1, Title: "Existing", Description: "kept"}})
	if err := backend.Set(context.Background(), store.DefaultKey, data); err != nil {
		t.Fatal(err)
	}
	s := newUnloadedStore(t, backend)
	m := newTestModel(t, s)

	press(m, "a", "X", "tab", "Y", "ctrl+s", "space", "enter")
	if m.ctrl.DialogOpen || m.ctrl.Alert != "" || m.detailOpen() {
		t.Fatalf("keys reached the screen before load: dialog=%v alert=%q", m.ctrl.DialogOpen, m.ctrl.Alert)
	}
	if s.SyncState().Version != 0 {
		t.Fatal("a mutation was queued before load")
	}
	assertContains(t, m.View(), "Loading...")

	load(t, m)
	assertContains(t, m.View(), "1 task for you", "Existing")

	stored, _, err := backend.Get(context.Background(), store.DefaultKey)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, data) {
		t.Errorf("stored list changed: %s", stored)
	}
}

func TestTUIQuitWhileLoading(t *testing.T) {
	m := newTestModel(t, newUnloadedStore(t, kv.NewMemoryStore()))
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should quit while loading")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestTUIUndecodableListQuits(t *testing.T) {
	backend := kv.NewMemoryStore()
	payload := []byte(`[{"id":1,"title":"Keep me","description":"d","completed":"yes"}]`)
	if err := backend.Set(context.Background(), store.DefaultKey, payload); err != nil {
		t.Fatal(err)
	}
	s := newUnloadedStore(t, backend)
	m := newTestModel(t, s)

	_, cmd := m.Update(loadCmd(m.ctx, m.store)())
	if cmd == nil {
		t.Fatal("expected the program to quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("a decode failure should quit")
	}
	if !errors.Is(m.fatalErr, todo.ErrDecode) {
		t.Errorf("fatalErr: got %v", m.fatalErr)
	}
	assertContains(t, m.View(), "Cannot read stored tasks")

	press(m, "a", "X", "tab", "Y", "ctrl+s")
	if _, err := s.Create("X", "Y"); !errors.Is(err, store.ErrNotLoaded) {
		t.Errorf("store accepted a mutation: %v", err)
	}
	stored, _, _ := backend.Get(context.Background(), store.DefaultKey)
	if !bytes.Equal(stored, payload) {
		t.Errorf("stored payload overwritten: %s", stored)
	}
}

func TestTUIUnsubscribeEndsWait(t *testing.T) {
	m := newTestModel(t, newTestStore(t))
	m.unsubscribe()
	if msg := waitForTasks(m.updates)(); msg != nil {
		t.Errorf("expected nil after unsubscribe, got %#v", msg)
	}
}

func TestTUICreateTask(t *testing.T) {
	s := newTestStore(t)
	m := newTestModel(t, s)
	load(t, m)

	press(m, "a")
	if !m.ctrl.DialogOpen {
		t.Fatal("dialog should open")
	}
	assertContains(t, m.View(), "Add a Todo Item")

	press(m, "Buy milk", "tab", "2%")
	if m.ctrl.Draft.Title != "Buy milk" || m.ctrl.Draft.Description != "2%" {
		t.Fatalf("draft: %+v", m.ctrl.Draft)
	}

	press(m, "ctrl+s")
	if m.ctrl.DialogOpen {
		t.Fatalf("dialog should close, alert=%q", m.ctrl.Alert)
	}
	want := todo.Task{ID: 1, Title: "Buy milk", Description: "2%"}
	if got := s.Tasks(); got.Len() != 1 || got[0] != want {
		t.Errorf("store: got %+v, want %+v", got, want)
	}
	assertContains(t, m.View(), "1 task for you", "[ ] Buy milk")

	// The next dialog starts empty.
	press(m, "a")
	if m.titleInput.Value() != "" || m.descInput.Value() != "" {
		t.Errorf("inputs not reset: %q %q", m.titleInput.Value(), m.descInput.Value())
	}
}

func TestTUIValidationAlert(t *testing.T) {
	s := newTestStore(t)
	m := newTestModel(t, s)
	load(t, m)

	press(m, "a", "only a title", "ctrl+s")
	assertContains(t, m.View(), store.IncompleteMessage)
	if s.Tasks().Len() != 0 {
		t.Error("incomplete draft was stored")
	}

	// Keys other than enter/esc do not reach the dialog behind the alert.
	press(m, "x")
	if m.ctrl.Draft.Title != "only a title" {
		t.Errorf("draft changed behind alert: %+v", m.ctrl.Draft)
	}

	press(m, "enter")
	if m.ctrl.Alert != "" || !m.ctrl.DialogOpen {
		t.Errorf("after dismiss: alert=%q dialog=%v", m.ctrl.Alert, m.ctrl.DialogOpen)
	}

	press(m, "esc")
	if m.ctrl.DialogOpen || !m.ctrl.Draft.IsEmpty() {
		t.Errorf("cancel should close and discard: %+v", m.ctrl.Draft)
	}
}

func TestTUIToggle(t *testing.T) {
	s := newTestStore(t)
	s.Create("A", "B")
	s.Create("C", "D")
	m := newTestModel(t, s)
	load(t, m)

	// Rows: C (id 2), A (id 1). Move to A and toggle it.
	press(m, "down", "space")
	if task, _ := s.Tasks().Find(1); !task.Completed {
		t.Fatalf("task 1 not completed: %+v", s.Tasks())
	}
	if sel, _ := m.selected(); sel.ID != 1 {
		t.Errorf("cursor should follow the toggled task, got %+v", sel)
	}

	view := m.View()
	todoIdx := strings.Index(view, "TO DO")
	doneIdx := strings.Index(view, "Completed")
	cIdx := strings.Index(view, "[ ] C")
	aIdx := strings.Index(view, "[x] ")
	if !(todoIdx < cIdx && cIdx < doneIdx && doneIdx < aIdx) {
		t.Errorf("sections out of order:\n%s", view)
	}

	press(m, "x")
	if task, _ := s.Tasks().Find(1); task.Completed {
		t.Error("x should toggle back")
	}
}

func TestTUIDetail(t *testing.T) {
	s := newTestStore(t)
	s.Create("Buy milk", "2%")
	m := newTestModel(t, s)
	load(t, m)

	press(m, "enter")
	assertContains(t, m.View(), "Buy milk", "2%", "[m] Mark Completed", "[enter/esc] OK")

	press(m, "esc")
	if m.detailOpen() {
		t.Fatal("esc should close the popup")
	}
	if s.Tasks()[0].Completed {
		t.Fatal("OK must not toggle")
	}

	press(m, "enter", "m")
	if m.detailOpen() || !s.Tasks()[0].Completed {
		t.Errorf("action: open=%v tasks=%+v", m.detailOpen(), s.Tasks())
	}

	press(m, "enter")
	assertContains(t, m.View(), "[m] Mark In Progress")
}

func TestTUICursorBounds(t *testing.T) {
	s := newTestStore(t)
	s.Create("A", "B")
	m := newTestModel(t, s)
	load(t, m)

	press(m, "up", "k", "down", "j", "down")
	if m.cursor != 0 {
		t.Errorf("cursor: got %d, want 0", m.cursor)
	}

	empty := newTestModel(t, newTestStore(t))
	load(t, empty)
	press(empty, "space", "enter")
	if empty.detailOpen() {
		t.Error("nothing to open on an empty list")
	}
}

func TestTUIStoreUpdates(t *testing.T) {
	s := newTestStore(t)
	m := newTestModel(t, s)
	load(t, m)

	s.Create("From elsewhere", "cli")
	msg := waitForTasks(m.updates)()
	m.Update(msg)
	assertContains(t, m.View(), "1 task for you", "From elsewhere")
}

func TestTUIHelpAndQuit(t *testing.T) {
	m := newTestModel(t, newTestStore(t))
	load(t, m)

	press(m, "?")
	assertContains(t, m.View(), "Keyboard Shortcuts")
	press(m, "?")
	if m.showHelp {
		t.Error("? should close help")
	}

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestIsTTY(t *testing.T) {
	var buf bytes.Buffer
	if IsTTY(&buf) {
		t.Error("buffer is not a TTY")
	}

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTTY(f) {
		t.Error("regular file is not a TTY")
	}
}
