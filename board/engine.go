package board

import (
	"slices"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// StatusPersister stores a task's column as its remote status. Implementations
// must not block; the returned channel yields exactly one result.
type StatusPersister interface {
	PersistStatusChange(task domain.Task) <-chan error
}

// Result describes the outcome of one drag event.
type Result struct {
	Announcement string
	// Changed is true when the event mutated the column order or task list.
	Changed bool
	// Persist is set when the event issued a status persistence request.
	Persist <-chan error
}

// Engine applies drag gestures to a board. All handlers run to completion
// under the board lock, so readers never see a task whose column disagrees
// with its place in the filtered column view.
type Engine struct {
	board    *Board
	persist  StatusPersister
	narrator Narrator
	session  *Session
}

// NewEngine creates an engine for b. persist may be nil, in which case drops
// are not persisted.
func NewEngine(b *Board, persist StatusPersister) *Engine {
	return &Engine{board: b, persist: persist, narrator: Narrator{board: b}}
}

// Board returns the board the engine mutates.
func (e *Engine) Board() *Board { return e.board }

// Session returns a copy of the active drag session.
func (e *Engine) Session() (Session, bool) {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// Start lifts the active subject.
func (e *Engine) Start(active domain.Subject) Result {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()

	a, ok := domain.Classify(active)
	if !ok {
		return Result{}
	}
	var origin domain.ColumnID
	if a.Kind == domain.KindTask {
		origin = e.narrator.currentColumn(a.Task)
	}
	e.session = newSession(a, origin)
	log.WithFields(log.Fields{"session": e.session.ID, "kind": a.Kind, "id": active.ID}).Debug("drag.start")
	return Result{Announcement: e.narrator.pickedUp(a, e.session)}
}

// Over applies a hover update of active over over.
func (e *Engine) Over(active, over domain.Subject) Result {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()

	if active.ID == over.ID {
		return Result{}
	}
	a, ok := domain.Classify(active)
	if !ok {
		return Result{}
	}
	o, ok := domain.Classify(over)
	if !ok {
		return Result{}
	}

	changed := false
	if a.Kind == domain.KindTask {
		switch o.Kind {
		case domain.KindTask:
			changed = e.board.moveTaskOverTask(active.ID, over.ID)
		case domain.KindColumn:
			changed = e.board.moveTaskToColumn(active.ID, o.Column.ID)
		}
	}
	if changed {
		log.WithFields(log.Fields{"active": active.ID, "over": over.ID, "overKind": o.Kind}).Debug("drag.over")
	}
	return Result{Announcement: e.narrator.movedOver(a, o, e.session), Changed: changed}
}

// End finalizes the gesture. over is nil when there is no drop target.
// A dropped task is always persisted with its current column, even when the
// drop target is missing.
func (e *Engine) End(active domain.Subject, over *domain.Subject) Result {
	e.board.mu.Lock()
	session := e.session
	e.session = nil

	a, ok := domain.Classify(active)
	if !ok {
		e.board.mu.Unlock()
		return Result{}
	}

	var res Result
	var dropped *domain.Task
	if a.Kind == domain.KindTask {
		t := a.Task.Clone()
		if i := e.board.taskIndex(active.ID); i >= 0 {
			t = e.board.tasks[i].Clone()
		}
		dropped = &t
	}

	if over != nil && over.ID != active.ID {
		if o, ok := domain.Classify(*over); ok {
			res.Announcement = e.narrator.dropped(a, o, session)
			if a.Kind == domain.KindColumn && o.Kind == domain.KindColumn {
				res.Changed = e.board.moveColumn(a.Column.ID, o.Column.ID)
			}
		}
	}
	e.board.mu.Unlock()

	if dropped != nil && e.persist != nil {
		res.Persist = e.persist.PersistStatusChange(*dropped)
	}
	log.WithFields(log.Fields{"kind": a.Kind, "id": active.ID, "changed": res.Changed}).Debug("drag.end")
	return res
}

// Cancel abandons the gesture. Column reassignments applied by earlier hover
// updates are kept.
func (e *Engine) Cancel(active domain.Subject) Result {
	e.board.mu.Lock()
	defer e.board.mu.Unlock()

	e.session = nil
	a, ok := domain.Classify(active)
	if !ok {
		return Result{}
	}
	return Result{Announcement: e.narrator.cancelled(a)}
}

// moveTaskOverTask relocates the active task relative to the hovered one.
// Crossing into another column inserts it immediately before the hovered task;
// within a column it takes the hovered task's index.
func (b *Board) moveTaskOverTask(activeID, overID string) bool {
	ai := b.taskIndex(activeID)
	oi := b.taskIndex(overID)
	if ai < 0 || oi < 0 {
		return false
	}
	if b.tasks[ai].ColumnID == b.tasks[oi].ColumnID {
		b.tasks = arrayMove(b.tasks, ai, oi)
		return ai != oi
	}

	moved := b.tasks[ai]
	moved.ColumnID = b.tasks[oi].ColumnID
	b.tasks = slices.Delete(b.tasks, ai, ai+1)
	b.tasks = slices.Insert(b.tasks, b.taskIndex(overID), moved)
	return true
}

func (b *Board) moveTaskToColumn(taskID string, col domain.ColumnID) bool {
	i := b.taskIndex(taskID)
	if i < 0 || b.columnIndex(col) < 0 {
		return false
	}
	if b.tasks[i].ColumnID == col {
		return false
	}
	b.tasks[i].ColumnID = col
	return true
}

func (b *Board) moveColumn(activeID, overID domain.ColumnID) bool {
	from := b.columnIndex(activeID)
	to := b.columnIndex(overID)
	if from < 0 || to < 0 || from == to {
		return false
	}
	b.columns = arrayMove(b.columns, from, to)
	return true
}
