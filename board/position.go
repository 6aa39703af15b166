package board

import (
	"slices"

	"taskboard/domain"
)

// Position describes where a task sits within a column.
type Position struct {
	Siblings []domain.Task
	// Index is zero-based, -1 when the task is not in the column.
	Index  int
	Column *domain.Column
}

// PositionOf returns the tasks of columnID and the index of taskID among them.
func (b *Board) PositionOf(taskID string, columnID domain.ColumnID) Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionOf(taskID, columnID)
}

func (b *Board) positionOf(taskID string, columnID domain.ColumnID) Position {
	siblings := b.tasksIn(columnID)
	p := Position{
		Siblings: siblings,
		Index:    slices.IndexFunc(siblings, func(t domain.Task) bool { return t.ID == taskID }),
	}
	if i := b.columnIndex(columnID); i >= 0 {
		c := b.columns[i]
		p.Column = &c
	}
	return p
}

func (p Position) columnTitle() string {
	if p.Column == nil {
		return ""
	}
	return p.Column.Title
}
