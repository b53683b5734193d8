package p2p

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapInternalPreservesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	wrapped := wrapInternal(errRetryableNetwork, cause)

	require.True(t, errors.Is(wrapped, errRetryableNetwork))
	require.False(t, errors.Is(wrapped, errWriteTimeout))
	require.Contains(t, wrapped.Error(), cause.Error())

	var ie *internalError
	require.True(t, errors.As(wrapped, &ie))
	require.Equal(t, cause.Error(), ie.Cause().Error())
}

func TestWrapInternalWithNilCauseReturnsSentinel(t *testing.T) {
	require.Equal(t, errCancelled, wrapInternal(errCancelled, nil))
}

func TestIsRetryableInternalFoldsWriteTimeout(t *testing.T) {
	err := wrapInternal(errWriteTimeout, errors.New("deadline exceeded"))
	require.True(t, isRetryableInternal(err))
}

func TestIsCancelled(t *testing.T) {
	require.True(t, isCancelled(wrapInternal(errCancelled, errors.New("ctx done"))))
	require.False(t, isCancelled(wrapInternal(errRetryableNetwork, errors.New("x"))))
}
