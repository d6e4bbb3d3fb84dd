package domain

import "errors"

// Kind classifies a rejected request so transports can map it to a status code.
type Kind string

const (
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindState      Kind = "state"
	KindDuplicate  Kind = "duplicate"
	KindExpired    Kind = "expired"
	KindValidation Kind = "validation"
	KindCapacity   Kind = "capacity"
)

// Error is a recoverable request error. It never indicates a broken session.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches kind sentinels (no message) against any error of the same kind.
// Errors carrying a message only match themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// NewError builds a request error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the kind of err, or "" when err is not a request error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Kind sentinels, usable with errors.Is.
var (
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrState      = &Error{Kind: KindState}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrExpired    = &Error{Kind: KindExpired}
	ErrValidation = &Error{Kind: KindValidation}
	ErrCapacity   = &Error{Kind: KindCapacity}
)

var (
	// ErrSessionExists is returned when a room code already maps to an active session.
	ErrSessionExists = NewError(KindConflict, "session code already in use")
	// ErrPollAlreadyActive is returned when launching while another poll is running.
	ErrPollAlreadyActive = NewError(KindConflict, "another poll is already active")
	// ErrSessionNotFound is returned when no active session exists for a code.
	ErrSessionNotFound = NewError(KindNotFound, "session not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = NewError(KindNotFound, "participant not found in session")
	// ErrPollNotFound indicates the poll id is unknown to the session.
	ErrPollNotFound = NewError(KindNotFound, "poll not found")
	// ErrDraftNotFound indicates a queued draft id is unknown or already launched.
	ErrDraftNotFound = NewError(KindNotFound, "draft not found")
	// ErrNotHost is returned when a non-host attempts a host-only action.
	ErrNotHost = NewError(KindForbidden, "only the host can perform this action")
	// ErrSessionEnded is returned for any mutation after the session ended.
	ErrSessionEnded = NewError(KindState, "session has ended")
	// ErrPollNotActive is returned when answering a poll that is not running.
	ErrPollNotActive = NewError(KindState, "poll is not active")
	// ErrPollRunning is returned by operations that require no active poll.
	ErrPollRunning = NewError(KindState, "a poll is still running")
	// ErrAlreadyAnswered is returned for a second answer to the same poll.
	ErrAlreadyAnswered = NewError(KindDuplicate, "answer already submitted for this poll")
	// ErrAnswerExpired is returned for answers arriving after the poll deadline.
	ErrAnswerExpired = NewError(KindExpired, "poll time limit has elapsed")
	// ErrSessionFull is returned when the participant ceiling is reached.
	ErrSessionFull = NewError(KindCapacity, "session is full")
	// ErrInvalidTransition guards the poll lifecycle draft -> active -> closed.
	ErrInvalidTransition = NewError(KindState, "invalid poll state transition")
)
