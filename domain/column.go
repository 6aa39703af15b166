package domain

// ColumnID identifies one of the fixed board columns.
type ColumnID string

const (
	ColumnTodo       ColumnID = "todo"
	ColumnInProgress ColumnID = "in-progress"
	ColumnDone       ColumnID = "done"
)

// FallbackColumn receives tasks whose remote status cannot be mapped.
const FallbackColumn = ColumnTodo

// Valid reports whether id is one of the fixed column ids.
func (id ColumnID) Valid() bool {
	switch id {
	case ColumnTodo, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

// Column is a reorderable status bucket.
type Column struct {
	ID    ColumnID `json:"id"`
	Title string   `json:"title"`
}

// DefaultColumns returns the columns in their initial display order.
func DefaultColumns() []Column {
	return []Column{
		{ID: ColumnTodo, Title: "To Do"},
		{ID: ColumnInProgress, Title: "In Progress"},
		{ID: ColumnDone, Title: "Done"},
	}
}

// Status is the remote store's task status vocabulary.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

var (
	columnToStatus = map[ColumnID]Status{
		ColumnTodo:       StatusTodo,
		ColumnInProgress: StatusInProgress,
		ColumnDone:       StatusDone,
	}
	statusToColumn = map[Status]ColumnID{
		StatusTodo:       ColumnTodo,
		StatusInProgress: ColumnInProgress,
		StatusDone:       ColumnDone,
	}
)

// StatusFor maps a column to the remote status. Invalid columns map to TODO.
func StatusFor(id ColumnID) Status {
	if s, ok := columnToStatus[id]; ok {
		return s
	}
	return StatusTodo
}

// ColumnFor maps a remote status to its column.
func ColumnFor(s Status) (ColumnID, bool) {
	id, ok := statusToColumn[s]
	return id, ok
}

// ColumnForOrFallback maps s to a column, defaulting unknown values to FallbackColumn.
func ColumnForOrFallback(s Status) ColumnID {
	if id, ok := ColumnFor(s); ok {
		return id
	}
	return FallbackColumn
}
