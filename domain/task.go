package domain

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Task represents a single board item held in local memory.
type Task struct {
	ID          string     `json:"id"`
	ColumnID    ColumnID   `json:"columnId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Owner       string     `json:"owner"`
	CreatedAt   time.Time  `json:"createdAt"`
	Assignees   []string   `json:"assignees"`
}

// AssignedTo reports whether user is one of the task's assignees.
func (t Task) AssignedTo(user string) bool {
	return slices.Contains(t.Assignees, user)
}

// VisibleTo reports whether user owns or is assigned to the task.
func (t Task) VisibleTo(user string) bool {
	return t.Owner == user || t.AssignedTo(user)
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	c := t
	if t.EndDate != nil {
		d := *t.EndDate
		c.EndDate = &d
	}
	if t.Assignees != nil {
		c.Assignees = append([]string(nil), t.Assignees...)
	}
	return c
}

// TaskID is a task identifier that decodes from either a JSON number or string.
type TaskID string

func (id *TaskID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		*id = TaskID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return err
	}
	*id = TaskID(raw)
	return nil
}

// RemoteTask is the task representation returned by the remote store.
type RemoteTask struct {
	ID          TaskID   `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	EndDate     *string  `json:"endDate"`
	CreatedAt   string   `json:"createdAt"`
	Status      Status   `json:"status"`
	Owner       string   `json:"owner"`
	Assignees   []string `json:"assignees"`
}

// ToTask converts the remote representation, deriving the column from the status.
func (r RemoteTask) ToTask() Task {
	t := Task{
		ID:        string(r.ID),
		ColumnID:  ColumnForOrFallback(r.Status),
		Title:     r.Title,
		Owner:     r.Owner,
		Assignees: append([]string{}, r.Assignees...),
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.EndDate != nil {
		if d, err := ParseTimestamp(*r.EndDate); err == nil {
			t.EndDate = &d
		}
	}
	if r.CreatedAt != "" {
		if c, err := ParseTimestamp(r.CreatedAt); err == nil {
			t.CreatedAt = c
		}
	}
	return t
}

// TaskRequest is the body of create and update calls to the remote store.
// The update contract replaces every field, so callers always send the full set.
type TaskRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	EndDate     *string  `json:"endDate"`
	Status      Status   `json:"status"`
	Assignees   []string `json:"assignees,omitempty"`
}

// TaskPayload is the user-supplied input for creating or editing a task.
type TaskPayload struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
}

// Request builds the remote request body for p. Empty optional fields become JSON null.
func (p TaskPayload) Request() TaskRequest {
	req := TaskRequest{
		Title:     strings.TrimSpace(p.Title),
		Status:    p.Status,
		Assignees: p.Assignees,
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		req.Description = &d
	}
	if p.EndDate != nil {
		s := FormatTimestamp(*p.EndDate)
		req.EndDate = &s
	}
	if req.Status == "" {
		req.Status = StatusTodo
	}
	return req
}

// StatusRequest builds the full update body used when persisting t's column.
func StatusRequest(t Task) TaskRequest {
	req := TaskRequest{
		Title:     t.Title,
		Status:    StatusFor(t.ColumnID),
		Assignees: t.Assignees,
	}
	if t.Description != "" {
		d := t.Description
		req.Description = &d
	}
	if t.EndDate != nil {
		s := FormatTimestamp(*t.EndDate)
		req.EndDate = &s
	}
	return req
}

// FormatTimestamp renders an absolute UTC timestamp accepted by the remote store.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses RFC 3339 timestamps and plain dates.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
