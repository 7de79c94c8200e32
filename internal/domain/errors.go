package domain

import "fmt"

// Error kinds. Callers match on these with errors.Is; the concrete error
// carries a human-readable message on top of the kind.
var (
	// ErrNotFound indicates a referenced quiz, session, or question is absent.
	ErrNotFound = kindError("not found")
	// ErrInvalidState indicates an operation is not permitted in the current
	// lifecycle state (answering an inactive session, starting an ended quiz...).
	ErrInvalidState = kindError("invalid state")
	// ErrConflict indicates a uniqueness violation, e.g. a duplicate answer.
	ErrConflict = kindError("conflict")
	// ErrEmptyQuiz indicates session creation against a quiz with no questions.
	ErrEmptyQuiz = kindError("quiz has no questions")
	// ErrInvalidInput indicates a malformed admin input (quiz or question payload).
	ErrInvalidInput = kindError("invalid input")
)

type kindError string

func (e kindError) Error() string { return string(e) }

// Error pairs a stable kind with a contextual message. errors.Is(err, kind)
// matches the kind; Error() returns the message.
type Error struct {
	kind kindError
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

func newError(kind kindError, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

// InvalidStatef builds an InvalidState error with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return newError(ErrInvalidState, format, args...)
}

// Conflictf builds a Conflict error with a formatted message.
func Conflictf(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

// EmptyQuizf builds an EmptyQuiz error with a formatted message.
func EmptyQuizf(format string, args ...any) error {
	return newError(ErrEmptyQuiz, format, args...)
}

// InvalidInputf builds an InvalidInput error with a formatted message.
func InvalidInputf(format string, args ...any) error {
	return newError(ErrInvalidInput, format, args...)
}
