package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotProjectMember is returned when an assignee is outside the project.
	ErrNotProjectMember = errors.New("assignee is not a project member")
	// ErrInvalidDueDate is returned for due dates in the past.
	ErrInvalidDueDate = errors.New("due date cannot be in the past")
	// ErrUniqueConstraintViolation signals a duplicate defect number.
	ErrUniqueConstraintViolation = errors.New("unique constraint violation")
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput signals failed input validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden signals that the actor may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)
