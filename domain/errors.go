package domain

import "errors"

var (
	// ErrEmptyTitle is returned when a task title is blank after trimming.
	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrTaskNotFound indicates the task does not exist in the store or board.
	ErrTaskNotFound = errors.New("task not found")

	// ErrForbidden indicates the user may not modify the task.
	ErrForbidden = errors.New("only owner is allowed to update this task")

	ErrInvalidColumn = errors.New("invalid column")
)
