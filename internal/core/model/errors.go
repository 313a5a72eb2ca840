package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a dialogue session is already open or an
	// adventure id is taken.
	ErrConflict = errors.New("conflict")
	// ErrStaleAction is returned for input from an actor whose turn it is not.
	ErrStaleAction = errors.New("action is not from the active actor")
	// ErrAgentUnavailable wraps transient agent failures that survived the retry.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrExchangeLimitExceeded signals the clarification ceiling; it forces
	// resolution and is never surfaced to players.
	ErrExchangeLimitExceeded = errors.New("clarification exchange limit reached")
	ErrSessionExpired        = errors.New("dialogue session expired")
	ErrNoSession             = errors.New("no dialogue session is open")
	ErrNotInitiator          = errors.New("only the initiating actor may do that")
	ErrSessionClosed         = errors.New("dialogue session is closed")
	ErrNotFound              = errors.New("not found")
)

// ValidationDeniedError is a validator veto. It is narrative feedback, not a fault.
type ValidationDeniedError struct {
	Validator string
	Reason    string
}

func (e *ValidationDeniedError) Error() string {
	return fmt.Sprintf("%s denied the action: %s", e.Validator, e.Reason)
}

// RetryableError aborts a resolution without touching turn state. The player
// can submit again.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s failed, try again: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func IsDenied(err error) (*ValidationDeniedError, bool) {
	var denied *ValidationDeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
