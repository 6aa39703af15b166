package domain

// Kind tags the variant carried by a drag payload.
type Kind string

const (
	KindColumn Kind = "Column"
	KindTask   Kind = "Task"
)

// Payload is the drag data attached to a subject. Exactly one of Column or Task
// is set, matching Kind.
type Payload struct {
	Kind   Kind
	Column *Column
	Task   *Task
}

// Subject is either the item being dragged or the item under the pointer.
// Data is nil for subjects that carry no drag metadata.
type Subject struct {
	ID   string
	Data *Payload
}

// ColumnSubject wraps a column as a drag subject.
func ColumnSubject(c Column) Subject {
	return Subject{ID: string(c.ID), Data: &Payload{Kind: KindColumn, Column: &c}}
}

// TaskSubject wraps a task as a drag subject.
func TaskSubject(t Task) Subject {
	return Subject{ID: t.ID, Data: &Payload{Kind: KindTask, Task: &t}}
}

// Classify returns the subject's payload when it is tagged as a column or task.
func Classify(s Subject) (Payload, bool) {
	if s.Data == nil {
		return Payload{}, false
	}
	switch s.Data.Kind {
	case KindColumn:
		if s.Data.Column == nil {
			return Payload{}, false
		}
	case KindTask:
		if s.Data.Task == nil {
			return Payload{}, false
		}
	default:
		return Payload{}, false
	}
	return *s.Data, true
}
