package board

import (
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
)

// Session is the state of a single drag gesture. It is created at drag start
// and discarded at drag end or cancel.
type Session struct {
	ID   uuid.UUID
	Kind domain.Kind
	// Origin is the column the lifted task was picked up from. Empty for columns.
	Origin       domain.ColumnID
	LiftedColumn *domain.Column
	LiftedTask   *domain.Task
	Started      time.Time
}

func newSession(p domain.Payload, origin domain.ColumnID) *Session {
	s := &Session{ID: uuid.New(), Kind: p.Kind, Started: time.Now()}
	switch p.Kind {
	case domain.KindColumn:
		c := *p.Column
		s.LiftedColumn = &c
	case domain.KindTask:
		t := p.Task.Clone()
		s.LiftedTask = &t
		s.Origin = origin
	}
	return s
}

func (s *Session) origin() domain.ColumnID {
	if s == nil {
		return ""
	}
	return s.Origin
}
