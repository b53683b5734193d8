package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableNetworkErrorTimeouts(t *testing.T) {
	var c Default
	require.True(t, c.IsRetryableNetworkError(context.DeadlineExceeded))
}

func TestIsRetryableNetworkErrorNilIsFalse(t *testing.T) {
	var c Default
	require.False(t, c.IsRetryableNetworkError(nil))
}

func TestIsRetryableNetworkErrorAbnormalWebsocketClose(t *testing.T) {
	var c Default
	err := &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	require.True(t, c.IsRetryableNetworkError(err))
}

func TestIsRetryableNetworkErrorNormalWebsocketCloseIsNotRetryable(t *testing.T) {
	var c Default
	err := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	require.False(t, c.IsRetryableNetworkError(err))
}

func TestIsIntentionalRemoteDisconnectNormalAndGoingAway(t *testing.T) {
	var c Default
	require.True(t, c.IsIntentionalRemoteDisconnect(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	require.True(t, c.IsIntentionalRemoteDisconnect(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	require.False(t, c.IsIntentionalRemoteDisconnect(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
}

func TestIsIntentionalRemoteDisconnectOtherErrorsAreFalse(t *testing.T) {
	var c Default
	require.False(t, c.IsIntentionalRemoteDisconnect(errors.New("connection reset by peer")))
}
