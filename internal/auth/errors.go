package auth

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateHandle      = errors.New("duplicate handle")
	ErrInvalidCredentials   = errors.New("invalid email or secret code")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrUnauthenticated      = errors.New("could not validate credentials")
	ErrUserNotFound         = errors.New("user not found")
	ErrStorage              = errors.New("storage failure")
)

// ValidationError lists the offending request fields and the rule each broke.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "invalid input: " + strings.Join(names, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// duplicateErr keeps the handle name in the message so the client learns
// which attribute clashed.
func duplicateErr(handle string) error {
	return fmt.Errorf("%w: %s already registered", ErrDuplicateHandle, handle)
}

// statusFor maps the error taxonomy onto HTTP. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateHandle):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidOrExpiredCode),
		errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the text clients see. Storage details never leave the
// process.
func publicMessage(err error) string {
	switch statusFor(err) {
	case http.StatusBadRequest:
		return ErrInvalidInput.Error()
	case http.StatusConflict:
		return strings.TrimPrefix(err.Error(), ErrDuplicateHandle.Error()+": ")
	case http.StatusUnauthorized:
		for _, e := range []error{ErrInvalidCredentials, ErrInvalidOrExpiredCode} {
			if errors.Is(err, e) {
				return e.Error()
			}
		}
		return ErrUnauthenticated.Error()
	case http.StatusNotFound:
		return ErrUserNotFound.Error()
	default:
		return "internal error"
	}
}
