// Package classify is the reference p2p.ErrorClassifier: an explicit,
// tested table of transport-layer error shapes, kept separate from the
// core so the open question of "how much should the core itself know
// about transport errors" stays answered in one place instead of
// resolved implicitly by scattered error-string checks.
package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/gorilla/websocket"
)

// Default is the reference p2p.ErrorClassifier for the websocket
// transport in this module.
type Default struct{}

// IsRetryableNetworkError reports whether err looks like a transient
// transport fault worth reconnecting over: timeouts, resets, refused
// connections, unexpected EOF, and any net.Error that self-reports as
// temporary or a timeout.
func (Default) IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || isTemporary(netErr)) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseAbnormalClosure, websocket.CloseServiceRestart,
			websocket.CloseTryAgainLater, websocket.CloseInternalServerErr:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsIntentionalRemoteDisconnect reports whether err represents the
// remote peer's own clean, user-initiated close: a normal or going-away
// websocket close code. This table is the resolution this module picks
// for the open question of distinguishing a deliberate remote goodbye
// from a dead connection; keep it explicit rather than folding it into
// IsRetryableNetworkError's string matching above.
func (Default) IsIntentionalRemoteDisconnect(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return true
		}
	}
	return false
}

// temporaryNetError is satisfied by the (deprecated but still present)
// Temporary() method several net.Error implementations still expose.
type temporaryNetError interface {
	Temporary() bool
}

func isTemporary(err error) bool {
	t, ok := err.(temporaryNetError)
	return ok && t.Temporary()
}
