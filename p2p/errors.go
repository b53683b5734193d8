package p2p

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Caller-visible error kinds. Sends fail with exactly one of these (or
// wrap the QueueFull path's ResourceLimit); nothing else escapes send,
// closeConnection, or stop.
var (
	// ErrResourceLimit is returned when a hard cap (queue capacity,
	// message size, concurrent connections) would be exceeded.
	ErrResourceLimit = errors.New("p2p: resource limit exceeded")
	// ErrIntentionallyClosed is returned for a peer closed by the local
	// caller via CloseConnection, until ReconnectPeer clears it.
	ErrIntentionallyClosed = errors.New("p2p: peer intentionally closed")
	// ErrStopped is returned once the PeerNetwork has been stopped.
	ErrStopped = errors.New("p2p: network stopped")
	// ErrGaveUp is returned when reconnection exhausted its attempt cap
	// or hit a non-retryable dial error.
	ErrGaveUp = errors.New("p2p: reconnection gave up")
)

// internal error kinds never escape to a send completion as such; they
// are translated into one of the caller-visible kinds above, or into a
// reconnection-loop transition.
var (
	errRetryableNetwork = errors.New("p2p: retryable network error")
	errWriteTimeout     = errors.New("p2p: write timeout")
	errCancelled        = errors.New("p2p: cancelled")
	errMissingHandshake = errors.New("p2p: expected handshake frame")
)

// internalError tags a cause (the original transport/classifier error)
// with one of the sentinel kinds above, so errors.Is still matches the
// kind while pkg/errors.Cause / %+v still reach the original for logs.
type internalError struct {
	kind  error
	cause error
}

func (e *internalError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }
func (e *internalError) Is(target error) bool { return e.kind == target }
func (e *internalError) Unwrap() error { return e.cause }
func (e *internalError) Cause() error  { return e.cause }

// wrapInternal tags cause with one of the internal sentinels above while
// preserving cause for logs via errors.Unwrap / pkg/errors.Cause.
func wrapInternal(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &internalError{kind: sentinel, cause: pkgerrors.WithStack(cause)}
}

// isRetryableInternal reports whether err was produced by wrapInternal
// around errRetryableNetwork or errWriteTimeout (write timeouts fold
// into the retryable-network class per the error handling design).
func isRetryableInternal(err error) bool {
	return errors.Is(err, errRetryableNetwork) || errors.Is(err, errWriteTimeout)
}

func isCancelled(err error) bool {
	return errors.Is(err, errCancelled)
}
