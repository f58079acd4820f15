package identifier

import (
	"errors"
	"fmt"
)

var (
	// ErrGeneration reports that no identifier could be generated.
	ErrGeneration = errors.New("identifier generation failed")
	// ErrLocalPersistence reports a LocalStore read or write failure.
	ErrLocalPersistence = errors.New("local persistence failed")
	// ErrUninitialized reports use of an engine that was never constructed.
	ErrUninitialized = errors.New("identifier engine not initialized")
)

// Error carries the failed operation and its classification. It matches
// its kind sentinel and the underlying cause with errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind returns a short classification for status reporting.
func (e *Error) ErrorKind() string {
	return kindName(e.Kind)
}

// KindOf classifies err as "generation", "local_persistence",
// "uninitialized" or "unknown".
func KindOf(err error) string {
	var classifier interface{ ErrorKind() string }
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	switch {
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrLocalPersistence):
		return "local_persistence"
	case errors.Is(err, ErrUninitialized):
		return "uninitialized"
	}
	return "unknown"
}

func kindName(kind error) string {
	switch kind {
	case ErrGeneration:
		return "generation"
	case ErrLocalPersistence:
		return "local_persistence"
	case ErrUninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

func generationError(op string, err error) error {
	return &Error{Op: op, Kind: ErrGeneration, Err: err}
}

func localError(op string, err error) error {
	return &Error{Op: op, Kind: ErrLocalPersistence, Err: err}
}

func uninitializedError(op string) error {
	return &Error{Op: op, Kind: ErrUninitialized, Err: errors.New("construct the engine with identifier.New before use")}
}
