package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/stroycontrol/defect-service/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// clientErrors maps expected domain failures to client facing responses.
// The message of the wrapped error is surfaced verbatim.
var clientErrors = []struct {
	target error
	code   string
	status int
}{
	{domain.ErrInvalidTransition, "INVALID_TRANSITION", http.StatusBadRequest},
	{domain.ErrNotProjectMember, "NOT_PROJECT_MEMBER", http.StatusBadRequest},
	{domain.ErrInvalidDueDate, "INVALID_DUE_DATE", http.StatusBadRequest},
	{domain.ErrInvalidInput, "VALIDATION_FAILED", http.StatusBadRequest},
	{domain.ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{domain.ErrNotFound, "NOT_FOUND", http.StatusNotFound},
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	for _, ce := range clientErrors {
		if errors.Is(err, ce.target) {
			return &DomainError{Code: ce.code, Message: err.Error(), HTTPStatus: ce.status}
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &DomainError{Code: "NOT_FOUND", Message: "resource not found", HTTPStatus: http.StatusNotFound}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsClientError reports whether err is an expected, caller caused failure.
func IsClientError(err error) bool {
	de := ToDomainError(err)
	return de != nil && de.HTTPStatus < http.StatusInternalServerError
}

func MapError(err error) error {
	return ToDomainError(err)
}
