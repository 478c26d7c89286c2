package ui

import (
	"errors"
	"fmt"

	"github.com/nibzard/todos/internal/store"
	"github.com/nibzard/todos/internal/todo"
)

// TaskStore is the part of store.Store the controller drives.
type TaskStore interface {
	Tasks() todo.List
	Create(title, description string) (todo.Task, error)
	ToggleCompleted(id int) bool
}

// Controller holds the transient screen state and turns user intents into
// store operations. It does no rendering.
type Controller struct {
	store TaskStore
	tasks todo.List

	// Draft is the task being entered in the creation dialog.
	Draft todo.Draft
	// DialogOpen reports whether the creation dialog is shown.
	DialogOpen bool
	// Alert is a blocking message, empty when none is shown.
	Alert string

	detailID   int
	detailOpen bool
}

// NewController creates a controller over s.
func NewController(s TaskStore) *Controller {
	return &Controller{store: s, tasks: s.Tasks()}
}

// SetTasks replaces the rendered list with a snapshot published by the store.
func (c *Controller) SetTasks(tasks todo.List) {
	c.tasks = tasks.Clone()
	if c.detailOpen {
		if _, ok := c.tasks.Find(c.detailID); !ok {
			c.CloseDetail()
		}
	}
}

// Tasks returns the full rendered list.
func (c *Controller) Tasks() todo.List {
	return c.tasks
}

// Incomplete returns the tasks shown under "TO DO".
func (c *Controller) Incomplete() todo.List {
	return c.tasks.Incomplete()
}

// Completed returns the tasks shown under "Completed".
func (c *Controller) Completed() todo.List {
	return c.tasks.Completed()
}

// Greeting is the header title.
const Greeting = "Hello"

// Header returns the greeting and the live task count of the full list.
func (c *Controller) Header() (title, subtitle string) {
	return Greeting, fmt.Sprintf("%s for you", todo.CountLabel(c.tasks.Len()))
}

// OpenDialog shows the creation dialog.
func (c *Controller) OpenDialog() {
	c.DialogOpen = true
}

// CancelDialog closes the creation dialog and discards the draft.
func (c *Controller) CancelDialog() {
	c.DialogOpen = false
	c.Draft.Reset()
}

// SetDraftTitle updates the draft title.
func (c *Controller) SetDraftTitle(title string) {
	c.Draft.Title = title
}

// SetDraftDescription updates the draft description.
func (c *Controller) SetDraftDescription(description string) {
	c.Draft.Description = description
}

// SubmitDraft creates a task from the draft. On success the dialog closes and
// the draft is cleared. An incomplete draft raises the alert and keeps the
// dialog open with its contents.
func (c *Controller) SubmitDraft() bool {
	_, err := c.store.Create(c.Draft.Title, c.Draft.Description)
	if err != nil {
		if errors.Is(err, store.ErrIncomplete) {
			c.Alert = store.IncompleteMessage
		} else {
			c.Alert = err.Error()
		}
		return false
	}
	c.DialogOpen = false
	c.Draft.Reset()
	c.refresh()
	return true
}

// Toggle flips the completed flag of task id.
func (c *Controller) Toggle(id int) {
	if c.store.ToggleCompleted(id) {
		c.refresh()
	}
}

// OpenDetail shows the detail popup for task id. Unknown ids are ignored.
func (c *Controller) OpenDetail(id int) {
	if _, ok := c.tasks.Find(id); !ok {
		return
	}
	c.detailID = id
	c.detailOpen = true
}

// Detail returns the task shown in the detail popup.
func (c *Controller) Detail() (todo.Task, bool) {
	if !c.detailOpen {
		return todo.Task{}, false
	}
	return c.tasks.Find(c.detailID)
}

// DetailActionLabel names the popup action for the current task state.
func (c *Controller) DetailActionLabel() string {
	task, ok := c.Detail()
	if ok && task.Completed {
		return "Mark In Progress"
	}
	return "Mark Completed"
}

// DetailAction toggles the detail task and closes the popup.
func (c *Controller) DetailAction() {
	task, ok := c.Detail()
	c.CloseDetail()
	if ok {
		c.Toggle(task.ID)
	}
}

// CloseDetail hides the detail popup.
func (c *Controller) CloseDetail() {
	c.detailOpen = false
	c.detailID = 0
}

// DismissAlert hides the alert.
func (c *Controller) DismissAlert() {
	c.Alert = ""
}

func (c *Controller) refresh() {
	c.tasks = c.store.Tasks()
}
