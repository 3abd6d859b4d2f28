package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidState = errors.New("invalid session state")
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyEnded is an ErrInvalidState returned when stopping a finished session.
	ErrAlreadyEnded = fmt.Errorf("%w: session already ended", ErrInvalidState)
	// ErrUnavailable is returned when an optional collaborator (archive storage) is not configured.
	ErrUnavailable = errors.New("service unavailable")
)
