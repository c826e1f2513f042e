// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// ErrNotFound is returned when an entity does not exist.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// ErrValidation reports bad input or an operation that is not allowed in the
// entity's current state.
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string {
	return e.Message
}

// ErrConflict reports a duplicate or an operation already in progress.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

func NewNotFound(entity, id string) error {
	return &ErrNotFound{Entity: entity, ID: id}
}

func NewValidation(format string, args ...any) error {
	return &ErrValidation{Message: fmt.Sprintf(format, args...)}
}

func NewConflict(format string, args ...any) error {
	return &ErrConflict{Message: fmt.Sprintf(format, args...)}
}

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres duplicate key error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	var notFound *ErrNotFound
	var validation *ErrValidation
	var conflict *ErrConflict

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict), IsUniqueViolation(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to API clients.
func PublicMessage(err error) string {
	switch HTTPStatus(err) {
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusConflict:
		if IsUniqueViolation(err) {
			return "Resource already exists"
		}
	}
	return err.Error()
}
