// Package ui provides the interactive task screen.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/nibzard/todos/internal/logging"
	"github.com/nibzard/todos/internal/store"
	"github.com/nibzard/todos/internal/todo"
)

// DefaultFlushTimeout bounds how long quitting waits for pending writes.
const DefaultFlushTimeout = 3 * time.Second

// TUIOption configures the TUI behavior.
type TUIOption func(*tuiConfig)

// tuiConfig holds TUI configuration.
type tuiConfig struct {
	flushTimeout time.Duration
	logger       *log.Logger
	altScreen    bool
}

// WithFlushTimeout sets how long to wait for pending writes on quit.
func WithFlushTimeout(d time.Duration) TUIOption {
	return func(c *tuiConfig) {
		if d > 0 {
			c.flushTimeout = d
		}
	}
}

// WithLogger sets the logger used outside the screen.
func WithLogger(logger *log.Logger) TUIOption {
	return func(c *tuiConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAltScreen toggles the alternate screen buffer.
func WithAltScreen(enabled bool) TUIOption {
	return func(c *tuiConfig) {
		c.altScreen = enabled
	}
}

// RunTUI loads the task list from s and runs the screen until the user quits.
// A stored list that cannot be decoded ends the program and is returned as an
// error. Pending writes are flushed before it returns.
func RunTUI(ctx context.Context, s *store.Store, opts ...TUIOption) error {
	c := &tuiConfig{
		flushTimeout: DefaultFlushTimeout,
		logger:       logging.Discard(),
		altScreen:    true,
	}
	for _, opt := range opts {
		opt(c)
	}

	if !IsTTY(os.Stdout) {
		return fmt.Errorf("tui requires a TTY")
	}

	model := newTUIModel(ctx, s, lipgloss.DefaultRenderer())
	defer model.unsubscribe()

	programOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if c.altScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}
	program := tea.NewProgram(model, programOpts...)
	_, runErr := program.Run()
	if runErr == nil && model.fatalErr != nil {
		runErr = fmt.Errorf("loading tasks: %w", model.fatalErr)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer cancel()
	if err := s.Flush(flushCtx); err != nil {
		c.logger.Warn("tasks not fully saved", "err", err)
	}
	return runErr
}

type dialogField int

const (
	fieldTitle dialogField = iota
	fieldDescription
)

const dialogWidth = 56

type tuiModel struct {
	ctx         context.Context
	store       *store.Store
	ctrl        *Controller
	updates     <-chan todo.List
	unsubscribe func()
	styles      tuiStyles

	loaded   bool
	loadErr  error
	fatalErr error
	cursor   int
	showHelp bool
	width    int

	focus      dialogField
	titleInput textinput.Model
	descInput  textarea.Model
}

type loadedMsg struct {
	err error
}

type tasksMsg struct {
	tasks todo.List
}

type tuiStyles struct {
	title    lipgloss.Style
	subtitle lipgloss.Style
	section  lipgloss.Style
	cursor   lipgloss.Style
	done     lipgloss.Style
	help     lipgloss.Style
	errText  lipgloss.Style
	dialog   lipgloss.Style
	alert    lipgloss.Style
}

func newTUIStyles(r *lipgloss.Renderer) tuiStyles {
	accent := lipgloss.Color("12")
	dialog := r.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(1, 2).
		Width(dialogWidth)
	return tuiStyles{
		title:    r.NewStyle().Bold(true),
		subtitle: r.NewStyle().Faint(true),
		section:  r.NewStyle().Bold(true).Underline(true),
		cursor:   r.NewStyle().Foreground(accent).Bold(true),
		done:     r.NewStyle().Strikethrough(true).Faint(true),
		help:     r.NewStyle().Faint(true),
		errText:  r.NewStyle().Foreground(lipgloss.Color("9")),
		dialog:   dialog,
		alert:    dialog.BorderForeground(lipgloss.Color("9")),
	}
}

func newTUIModel(ctx context.Context, s *store.Store, r *lipgloss.Renderer) *tuiModel {
	updates, unsubscribe := s.Subscribe()

	title := textinput.New()
	title.Placeholder = "Title"
	title.CharLimit = 200
	title.Width = dialogWidth - 8

	desc := textarea.New()
	desc.Placeholder = "Description"
	desc.CharLimit = 0
	desc.ShowLineNumbers = false
	desc.SetWidth(dialogWidth - 6)
	desc.SetHeight(6)

	return &tuiModel{
		ctx:         ctx,
		store:       s,
		ctrl:        NewController(s),
		updates:     updates,
		unsubscribe: unsubscribe,
		styles:      newTUIStyles(r),
		titleInput:  title,
		descInput:   desc,
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(loadCmd(m.ctx, m.store), waitForTasks(m.updates))
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case loadedMsg:
		if errors.Is(msg.err, todo.ErrDecode) {
			m.fatalErr = msg.err
			return m, m.quit()
		}
		m.loaded = true
		m.loadErr = msg.err
		m.ctrl.SetTasks(m.store.Tasks())
		m.clampCursor()
		return m, nil
	case tasksMsg:
		m.ctrl.SetTasks(msg.tasks)
		m.clampCursor()
		return m, waitForTasks(m.updates)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if !m.loaded {
			if msg.String() == "q" {
				return m, m.quit()
			}
			return m, nil
		}
		switch {
		case m.ctrl.Alert != "":
			return m.updateAlert(msg)
		case m.ctrl.DialogOpen:
			return m.updateDialog(msg)
		case m.detailOpen():
			return m.updateDetail(msg)
		}
		return m.updateList(msg)
	}

	if m.ctrl.DialogOpen {
		return m.updateInputs(msg)
	}
	return m, nil
}

func (m *tuiModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, m.quit()
	case "?", "h":
		m.showHelp = !m.showHelp
	case "esc":
		m.showHelp = false
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows())-1 {
			m.cursor++
		}
	case " ", "space", "x":
		if task, ok := m.selected(); ok {
			m.ctrl.Toggle(task.ID)
			m.followTask(task.ID)
		}
	case "enter":
		if task, ok := m.selected(); ok {
			m.ctrl.OpenDetail(task.ID)
		}
	case "a", "+":
		return m, m.openDialog()
	}
	return m, nil
}

func (m *tuiModel) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.ctrl.CancelDialog()
		m.resetInputs()
		return m, nil
	case "tab", "shift+tab":
		return m, m.switchField()
	case "ctrl+s":
		if m.ctrl.SubmitDraft() {
			m.resetInputs()
		}
		return m, nil
	}
	return m.updateInputs(msg)
}

func (m *tuiModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focus {
	case fieldTitle:
		m.titleInput, cmd = m.titleInput.Update(msg)
		m.ctrl.SetDraftTitle(m.titleInput.Value())
	case fieldDescription:
		m.descInput, cmd = m.descInput.Update(msg)
		m.ctrl.SetDraftDescription(m.descInput.Value())
	}
	return m, cmd
}

func (m *tuiModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "m":
		task, _ := m.ctrl.Detail()
		m.ctrl.DetailAction()
		m.followTask(task.ID)
	case "enter", "esc", "q":
		m.ctrl.CloseDetail()
	}
	return m, nil
}

func (m *tuiModel) updateAlert(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.ctrl.DismissAlert()
	}
	return m, nil
}

func (m *tuiModel) openDialog() tea.Cmd {
	m.ctrl.OpenDialog()
	m.titleInput.SetValue(m.ctrl.Draft.Title)
	m.descInput.SetValue(m.ctrl.Draft.Description)
	m.focus = fieldTitle
	m.descInput.Blur()
	return m.titleInput.Focus()
}

func (m *tuiModel) switchField() tea.Cmd {
	if m.focus == fieldTitle {
		m.focus = fieldDescription
		m.titleInput.Blur()
		return m.descInput.Focus()
	}
	m.focus = fieldTitle
	m.descInput.Blur()
	return m.titleInput.Focus()
}

func (m *tuiModel) resetInputs() {
	m.titleInput.Reset()
	m.descInput.Reset()
	m.titleInput.Blur()
	m.descInput.Blur()
	m.focus = fieldTitle
}

func (m *tuiModel) quit() tea.Cmd {
	m.unsubscribe()
	return tea.Quit
}

func (m *tuiModel) detailOpen() bool {
	_, ok := m.ctrl.Detail()
	return ok
}

// rows lists the tasks in screen order: the TO DO section, then Completed.
func (m *tuiModel) rows() todo.List {
	incomplete, completed := m.ctrl.Tasks().Partition()
	return append(incomplete, completed...)
}

func (m *tuiModel) selected() (todo.Task, bool) {
	rows := m.rows()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return todo.Task{}, false
	}
	return rows[m.cursor], true
}

// followTask keeps the cursor on a task after it moved between sections.
func (m *tuiModel) followTask(id int) {
	for i, task := range m.rows() {
		if task.ID == id {
			m.cursor = i
			return
		}
	}
	m.clampCursor()
}

func (m *tuiModel) clampCursor() {
	n := len(m.rows())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func loadCmd(ctx context.Context, s *store.Store) tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: s.Load(ctx)}
	}
}

func waitForTasks(ch <-chan todo.List) tea.Cmd {
	return func() tea.Msg {
		tasks, ok := <-ch
		if !ok {
			return nil
		}
		return tasksMsg{tasks: tasks}
	}
}

func (m *tuiModel) View() string {
	var b strings.Builder
	m.writeHeader(&b)

	if m.fatalErr != nil {
		b.WriteString(m.styles.errText.Render("Cannot read stored tasks: "+m.fatalErr.Error()) + "\n")
		return b.String()
	}
	if !m.loaded {
		b.WriteString("Loading...\n")
		return b.String()
	}
	if m.loadErr != nil {
		b.WriteString(m.styles.errText.Render("Error loading tasks: "+m.loadErr.Error()) + "\n\n")
	}

	switch {
	case m.ctrl.Alert != "":
		b.WriteString(m.center(m.alertView()) + "\n")
		return b.String()
	case m.ctrl.DialogOpen:
		b.WriteString(m.center(m.dialogView()) + "\n")
		return b.String()
	case m.detailOpen():
		b.WriteString(m.center(m.detailView()) + "\n")
		return b.String()
	case m.showHelp:
		m.writeHelp(&b)
		return b.String()
	}

	m.writeSections(&b)
	m.writeFooter(&b)
	return b.String()
}

func (m *tuiModel) writeHeader(b *strings.Builder) {
	title, subtitle := m.ctrl.Header()
	b.WriteString(m.styles.title.Render(title) + "\n")
	b.WriteString(m.styles.subtitle.Render(subtitle) + "\n\n")
}

func (m *tuiModel) writeSections(b *strings.Builder) {
	incomplete, completed := m.ctrl.Tasks().Partition()

	b.WriteString(m.styles.section.Render("TO DO") + "\n")
	m.writeRows(b, incomplete, 0, "  Nothing to do.")
	b.WriteString("\n")

	b.WriteString(m.styles.section.Render("Completed") + "\n")
	m.writeRows(b, completed, len(incomplete), "  Nothing completed yet.")
	b.WriteString("\n")
}

func (m *tuiModel) writeRows(b *strings.Builder, tasks todo.List, offset int, empty string) {
	if len(tasks) == 0 {
		b.WriteString(m.styles.help.Render(empty) + "\n")
		return
	}
	for i, task := range tasks {
		pointer := "  "
		if offset+i == m.cursor {
			pointer = m.styles.cursor.Render("> ")
		}
		check := "[ ]"
		title := task.Title
		if task.Completed {
			check = "[x]"
			title = m.styles.done.Render(title)
		}
		b.WriteString(fmt.Sprintf("%s%s %s\n", pointer, check, title))
	}
}

func (m *tuiModel) center(box string) string {
	if m.width <= lipgloss.Width(box) {
		return box
	}
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Center, box)
}

func (m *tuiModel) dialogView() string {
	var b strings.Builder
	b.WriteString(m.styles.title.Render("Add a Todo Item") + "\n\n")
	b.WriteString(m.titleInput.View() + "\n\n")
	b.WriteString(m.descInput.View() + "\n\n")
	b.WriteString(m.styles.help.Render("tab: next field | ctrl+s: add | esc: cancel"))
	return m.styles.dialog.Render(b.String())
}

func (m *tuiModel) detailView() string {
	task, _ := m.ctrl.Detail()
	var b strings.Builder
	b.WriteString(m.styles.title.Render(task.Title) + "\n\n")
	b.WriteString(task.Description + "\n\n")
	b.WriteString(fmt.Sprintf("[m] %s   [enter/esc] OK", m.ctrl.DetailActionLabel()))
	return m.styles.dialog.Render(b.String())
}

func (m *tuiModel) alertView() string {
	return m.styles.alert.Render(m.ctrl.Alert + "\n\n" + m.styles.help.Render("[enter] OK"))
}

func (m *tuiModel) writeHelp(b *strings.Builder) {
	b.WriteString("Keyboard Shortcuts\n\n")
	b.WriteString("  up, k        Move up\n")
	b.WriteString("  down, j      Move down\n")
	b.WriteString("  space, x     Toggle completed\n")
	b.WriteString("  enter        Show details\n")
	b.WriteString("  a, +         Add a task\n")
	b.WriteString("  h, ?         Toggle this help screen\n")
	b.WriteString("  q, ctrl+c    Quit\n\n")
	m.writeFooter(b)
}

func (m *tuiModel) writeFooter(b *strings.Builder) {
	b.WriteString(m.styles.help.Render("Press ? for help | a to add | q to quit") + "\n")
}

// IsTTY returns true if w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
