package board

import (
	"slices"
	"sync"

	"taskboard/domain"
)

// Board holds the column display order and the flat task list for one user.
// The order of the task list encodes intra-column display order; a column's
// view is the list filtered by column id.
type Board struct {
	mu      sync.Mutex
	columns []domain.Column
	tasks   []domain.Task
	loaded  bool
	loadErr error
}

// New returns an empty board with the default columns.
func New() *Board {
	return &Board{columns: domain.DefaultColumns()}
}

// ColumnView is one column with its tasks in display order.
type ColumnView struct {
	domain.Column
	Tasks []domain.Task `json:"tasks"`
}

// View is a point-in-time copy of the board.
type View struct {
	Columns   []ColumnView `json:"columns"`
	Loaded    bool         `json:"loaded"`
	LoadError string       `json:"loadError,omitempty"`
}

// Columns returns the columns in display order.
func (b *Board) Columns() []domain.Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.columns)
}

// Tasks returns a copy of the flat task list.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Task, len(b.tasks))
	for i, t := range b.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Task returns the task with the given id.
func (b *Board) Task(id string) (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.taskIndex(id)
	if i < 0 {
		return domain.Task{}, false
	}
	return b.tasks[i].Clone(), true
}

// TasksIn returns the tasks of a column in display order.
func (b *Board) TasksIn(id domain.ColumnID) []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tasksIn(id)
}

// View returns a grouped copy of the board.
func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := View{Columns: make([]ColumnView, 0, len(b.columns)), Loaded: b.loaded}
	for _, c := range b.columns {
		v.Columns = append(v.Columns, ColumnView{Column: c, Tasks: b.tasksIn(c.ID)})
	}
	if b.loadErr != nil {
		v.LoadError = b.loadErr.Error()
	}
	return v
}

// Loaded reports whether a load has completed successfully.
func (b *Board) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// LoadError returns the last load failure, if any.
func (b *Board) LoadError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadErr
}

// SetLoadError records a failed load. The task list is left untouched.
func (b *Board) SetLoadError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadErr = err
}

// ReplaceAll swaps in the given task list and clears any load error.
func (b *Board) ReplaceAll(tasks []domain.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = b.tasks[:0]
	for _, t := range tasks {
		b.tasks = append(b.tasks, sanitize(t))
	}
	b.loaded = true
	b.loadErr = nil
}

// Prepend places t at the head of the list.
func (b *Board) Prepend(t domain.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = slices.Insert(b.tasks, 0, sanitize(t))
}

// Replace swaps the task with the same id for t, keeping its position.
func (b *Board) Replace(t domain.Task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.taskIndex(t.ID)
	if i < 0 {
		return false
	}
	b.tasks[i] = sanitize(t)
	return true
}

// Remove deletes the task with the given id.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.taskIndex(id)
	if i < 0 {
		return false
	}
	b.tasks = slices.Delete(b.tasks, i, i+1)
	return true
}

// Subject resolves a transport-level {kind, id} reference against the current
// board state. Unknown kinds or ids produce a subject without drag data.
func (b *Board) Subject(kind domain.Kind, id string) domain.Subject {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case domain.KindTask:
		if i := b.taskIndex(id); i >= 0 {
			return domain.TaskSubject(b.tasks[i].Clone())
		}
	case domain.KindColumn:
		if i := b.columnIndex(domain.ColumnID(id)); i >= 0 {
			return domain.ColumnSubject(b.columns[i])
		}
	}
	return domain.Subject{ID: id}
}

func (b *Board) tasksIn(id domain.ColumnID) []domain.Task {
	out := []domain.Task{}
	for _, t := range b.tasks {
		if t.ColumnID == id {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (b *Board) taskIndex(id string) int {
	return slices.IndexFunc(b.tasks, func(t domain.Task) bool { return t.ID == id })
}

func (b *Board) columnIndex(id domain.ColumnID) int {
	return slices.IndexFunc(b.columns, func(c domain.Column) bool { return c.ID == id })
}

// sanitize keeps the column invariant for tasks entering the board.
func sanitize(t domain.Task) domain.Task {
	t = t.Clone()
	if !t.ColumnID.Valid() {
		t.ColumnID = domain.FallbackColumn
	}
	return t
}

// arrayMove removes the element at from and reinserts it at to.
func arrayMove[T any](s []T, from, to int) []T {
	if from == to || from < 0 || from >= len(s) || to < 0 || to >= len(s) {
		return s
	}
	item := s[from]
	s = slices.Delete(s, from, from+1)
	return slices.Insert(s, to, item)
}
