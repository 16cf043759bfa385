package transfer

import (
	"errors"
)

var (
	// ErrTransportFailure indicates a rendezvous, handshake or mid-transfer network failure.
	ErrTransportFailure = errors.New("transfer: transport failure")
	// ErrUserCancelled indicates the session was cancelled on request.
	ErrUserCancelled = errors.New("transfer: cancelled by user")
	// ErrIdleTimeout indicates an accepted download made no progress for too long.
	ErrIdleTimeout = errors.New("transfer: download idle timeout")
	// ErrInvalidCode indicates an empty or malformed receive code.
	ErrInvalidCode = errors.New("transfer: invalid code")
	// ErrNoOffer indicates the sender went away without offering anything.
	ErrNoOffer = errors.New("transfer: no offer")
	// ErrFileSystem indicates a local file could not be created or written.
	ErrFileSystem = errors.New("transfer: file system error")
)

const (
	msgCancelled = "Transfer cancelled by user"
	msgNoCode    = "No code provided for receiving file."
	msgNoOffer   = "No file was offered by the sender (canceled or empty)."
	msgIdle      = "Download stalled: no data received before the idle timeout"
)

// Error is returned by every Engine operation that fails after validation.
// Error() is the human-readable message shown to users; errors.Is matches
// both Kind and the underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, message string, cause error) *Error {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	return &Error{Kind: kind, Message: message, Err: cause}
}
