package board

import (
	"fmt"

	"taskboard/domain"
)

// Narrator builds screen reader announcements for drag events. It only reads
// board state and the drag session; callers must hold the board lock.
type Narrator struct {
	board *Board
}

func (n Narrator) pickedUp(active domain.Payload, s *Session) string {
	b := n.board
	switch active.Kind {
	case domain.KindColumn:
		idx := b.columnIndex(active.Column.ID)
		return fmt.Sprintf("Picked up Column %s at position: %d of %d", active.Column.Title, idx+1, len(b.columns))
	case domain.KindTask:
		pos := b.positionOf(active.Task.ID, s.origin())
		return fmt.Sprintf("Picked up Task %s at position: %d of %d in column %s",
			active.Task.Title, pos.Index+1, len(pos.Siblings), pos.columnTitle())
	}
	return ""
}

func (n Narrator) movedOver(active, over domain.Payload, s *Session) string {
	b := n.board
	switch {
	case active.Kind == domain.KindColumn && over.Kind == domain.KindColumn:
		idx := b.columnIndex(over.Column.ID)
		return fmt.Sprintf("Column %s was moved over %s at position %d of %d",
			active.Column.Title, over.Column.Title, idx+1, len(b.columns))
	case active.Kind == domain.KindTask && over.Kind == domain.KindTask:
		col := n.currentColumn(over.Task)
		pos := b.positionOf(over.Task.ID, col)
		if col != s.origin() {
			return fmt.Sprintf("Task %s was moved over column %s in position %d of %d",
				active.Task.Title, pos.columnTitle(), pos.Index+1, len(pos.Siblings))
		}
		return fmt.Sprintf("Task was moved over position %d of %d in column %s",
			pos.Index+1, len(pos.Siblings), pos.columnTitle())
	}
	return ""
}

// dropped must run before the drop mutates the column order.
func (n Narrator) dropped(active, over domain.Payload, s *Session) string {
	b := n.board
	switch {
	case active.Kind == domain.KindColumn && over.Kind == domain.KindColumn:
		idx := b.columnIndex(over.Column.ID)
		return fmt.Sprintf("Column %s was dropped into position %d of %d",
			active.Column.Title, idx+1, len(b.columns))
	case active.Kind == domain.KindTask && over.Kind == domain.KindTask:
		col := n.currentColumn(over.Task)
		pos := b.positionOf(over.Task.ID, col)
		if col != s.origin() {
			return fmt.Sprintf("Task was dropped into column %s in position %d of %d",
				pos.columnTitle(), pos.Index+1, len(pos.Siblings))
		}
		return fmt.Sprintf("Task was dropped into position %d of %d in column %s",
			pos.Index+1, len(pos.Siblings), pos.columnTitle())
	}
	return ""
}

func (n Narrator) cancelled(active domain.Payload) string {
	return fmt.Sprintf("Dragging %s cancelled.", active.Kind)
}

// currentColumn prefers the live board value over the payload snapshot.
func (n Narrator) currentColumn(t *domain.Task) domain.ColumnID {
	if i := n.board.taskIndex(t.ID); i >= 0 {
		return n.board.tasks[i].ColumnID
	}
	return t.ColumnID
}
