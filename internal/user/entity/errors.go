package entity

import "errors"

// ErrDuplicateHandle matches any DuplicateHandleError via errors.Is.
var ErrDuplicateHandle = errors.New("duplicate handle")

// Handle names reported by DuplicateHandleError.
const (
	HandleEmail    = "email"
	HandlePhone    = "phone"
	HandleUsername = "username"
)

// DuplicateHandleError reports which unique handle was already taken.
type DuplicateHandleError struct {
	Handle string
}

func (e *DuplicateHandleError) Error() string { return e.Handle + " already registered" }

func (e *DuplicateHandleError) Is(target error) bool { return target == ErrDuplicateHandle }
