package terminology

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a code missing from a code system.
type NotFoundError struct {
	System string
	Code   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s code %s not found", e.System, e.Code)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ErrInvalidInput marks caller mistakes such as a blank code.
var ErrInvalidInput = errors.New("invalid input")

// IsInvalidInput reports whether err wraps ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }
