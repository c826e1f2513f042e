// Package email delivers rendered newsletters to recipients.
package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrFailedToSend  = errors.New("email: failed to send")
	ErrInvalidConfig = errors.New("email: invalid config")
	// ErrInvalidParams is permanent; retrying the same message cannot succeed.
	ErrInvalidParams = errors.New("email: invalid params")
)

// Sender sends one message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, params SendParams) (string, error)
}

type SendParams struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	HTML    string `json:"html" validate:"required"`
	Text    string `json:"text"`
	Tag     string `json:"tag,omitempty"`
}

var validate = validator.New()

func (p SendParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// PermanentError marks a provider rejection that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err should stop further attempts.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.Is(err, ErrInvalidParams) || errors.As(err, &perm)
}
