package todo

import (
	"fmt"
	"strings"
)

// Task is a single to-do item.
type Task struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// StatusLabel returns "completed" or "in progress".
func (t Task) StatusLabel() string {
	if t.Completed {
		return "completed"
	}
	return "in progress"
}

// List is an ordered task list, most recent first.
type List []Task

// Len returns the number of tasks.
func (l List) Len() int {
	return len(l)
}

// Clone returns a copy that shares no backing array with l.
func (l List) Clone() List {
	if l == nil {
		return List{}
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Prepend returns a new list with t in front.
func (l List) Prepend(t Task) List {
	out := make(List, 0, len(l)+1)
	out = append(out, t)
	return append(out, l...)
}

// Toggle returns a new list with the completed flag of task id inverted.
// If no task has that id, it returns an unchanged copy and false.
func (l List) Toggle(id int) (List, bool) {
	out := l.Clone()
	for i := range out {
		if out[i].ID == id {
			out[i].Completed = !out[i].Completed
			return out, true
		}
	}
	return out, false
}

// Find returns the task with the given id.
func (l List) Find(id int) (Task, bool) {
	for _, t := range l {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Incomplete returns the tasks not yet completed, in list order.
func (l List) Incomplete() List {
	incomplete, _ := l.Partition()
	return incomplete
}

// Completed returns the completed tasks, in list order.
func (l List) Completed() List {
	_, completed := l.Partition()
	return completed
}

// Partition splits the list by completion. Both halves keep list order.
func (l List) Partition() (incomplete, completed List) {
	incomplete = List{}
	completed = List{}
	for _, t := range l {
		if t.Completed {
			completed = append(completed, t)
		} else {
			incomplete = append(incomplete, t)
		}
	}
	return incomplete, completed
}

// IDStrategy selects how NextID assigns ids.
type IDStrategy string

const (
	// IDLength assigns len(list)+1.
	IDLength IDStrategy = "length"
	// IDMax assigns max(id)+1.
	IDMax IDStrategy = "max"
)

// ParseIDStrategy normalizes a strategy name. Empty means IDLength.
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "length", "len":
		return IDLength, nil
	case "max", "monotonic":
		return IDMax, nil
	default:
		return "", fmt.Errorf("unknown id strategy %q, must be one of: length, max", s)
	}
}

// NextID returns the id for a task about to be added to l.
func (l List) NextID(strategy IDStrategy) int {
	if strategy != IDMax {
		return len(l) + 1
	}
	highest := 0
	for _, t := range l {
		if t.ID > highest {
			highest = t.ID
		}
	}
	return highest + 1
}

// CountLabel formats a task count: "1 task", "3 tasks".
func CountLabel(n int) string {
	if n == 1 {
		return "1 task"
	}
	return fmt.Sprintf("%d tasks", n)
}

// Draft is a task being composed in the creation form. It is never stored.
type Draft struct {
	Title       string
	Description string
}

// IsComplete reports whether both fields have non-blank content.
func (d Draft) IsComplete() bool {
	return strings.TrimSpace(d.Title) != "" && strings.TrimSpace(d.Description) != ""
}

// IsEmpty reports whether both fields are empty.
func (d Draft) IsEmpty() bool {
	return d.Title == "" && d.Description == ""
}

// Reset clears the draft.
func (d *Draft) Reset() {
	*d = Draft{}
}
