package orders

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	// ErrInvalidStatus is a validation error; errors.Is matches both.
	ErrInvalidStatus     = &validationError{msg: "invalid status"}
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrConnection        = errors.New("order store unreachable")
	ErrNotFound          = errors.New("order not found")
	ErrConflict          = errors.New("order state conflict")
)

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool { return target == ErrValidation }
