package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates an action that requires a session.
	ErrUnauthorized = errors.New("store: unauthorized")
	// ErrInvalidCredentials indicates a failed login attempt.
	ErrInvalidCredentials = errors.New("store: invalid credentials")
	// ErrEmailAlreadyRegistered indicates a registration with a known email.
	ErrEmailAlreadyRegistered = errors.New("store: email already registered")
	// ErrInvalidLink indicates a confirmation link with missing or bad tokens.
	ErrInvalidLink = errors.New("store: invalid confirmation link")
)

// RemoteError wraps a failed backend call with the operation that
// issued it. Callers display it; nothing retries it automatically.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("store: remote operation %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteErr(op string, err error) error {
	return &RemoteError{Op: op, Err: err}
}
