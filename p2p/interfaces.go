package p2p

import (
	"context"
	"time"
)

// PeerID is an opaque, equality-comparable identifier for a remote
// endpoint. Treated as a short printable string throughout this package.
type PeerID string

// LocationHint is an address string that helps a ChannelFactory dial a
// peer. Hints accumulate across calls and are union-merged.
type LocationHint string

// Channel is a full-duplex byte-stream primitive to a single peer. It is
// obtained from a ChannelFactory and may break at any time; callers never
// construct one directly.
type Channel interface {
	// Read blocks for the next frame, returning io.EOF on a clean
	// end-of-stream and any other error on a broken connection.
	Read(ctx context.Context) ([]byte, error)
	// Write sends a single frame, honoring ctx's deadline. Must be safe
	// for concurrent callers: the reader goroutine may Write an ack frame
	// while a send or reconnection flush is writing data on the same
	// Channel.
	Write(ctx context.Context, b []byte) error
	// Close releases the underlying transport resource.
	Close() error
}

// ChannelFactory dials and accepts raw byte-stream Channels for peers.
// Address resolution, relay traversal, and transport negotiation below
// this interface are out of scope for this package.
type ChannelFactory interface {
	// DialIdempotent returns a live Channel bound to peerID. retry=true
	// means the dial originates from a caller's Send; retry=false means
	// it originates from the ReconnectionLoop. Implementations may
	// deduplicate concurrent dials to the same peer.
	DialIdempotent(ctx context.Context, peerID PeerID, hints []LocationHint, retry bool) (Channel, error)
	// OnInboundConnection installs a callback invoked for each inbound
	// channel; the callback reports the channel and the peer ID it
	// claims.
	OnInboundConnection(cb func(peerID PeerID, ch Channel))
	// CloseChannel gracefully releases a channel previously returned by
	// DialIdempotent or reported to OnInboundConnection.
	CloseChannel(ctx context.Context, ch Channel, peerID PeerID) error
	// Stop shuts down all transports owned by this factory.
	Stop(ctx context.Context) error
}

// ApplicationHandler is invoked for every inbound data frame. Failures
// are logged by the caller and never propagate.
type ApplicationHandler func(ctx context.Context, peerID PeerID, method string, params []any) error

// WakeDetector invokes a callback when the host resumes from sleep. The
// returned cleanup stops detection.
type WakeDetector func(cb func()) (cleanup func())

// ErrorClassifier recognizes transport-layer error shapes this package
// does not otherwise understand. Keep the intentional-disconnect table
// explicit and tested; see internal/classify for the reference
// implementation over net/gorilla-websocket errors.
type ErrorClassifier interface {
	// IsRetryableNetworkError reports whether err should drive
	// reconnection (dial failure, write/read failure, write timeout).
	IsRetryableNetworkError(err error) bool
	// IsIntentionalRemoteDisconnect reports whether err represents a
	// transport-level abort carrying a user-initiated-abort cause —
	// i.e. the remote peer closed on purpose, and no reconnection
	// should be attempted from this side.
	IsIntentionalRemoteDisconnect(err error) bool
}

// OnRemoteGiveUp, if set in Options, is invoked exactly once per
// give-up episode for a peer.
type OnRemoteGiveUp func(peerID PeerID)

// clockNow exists so tests can't accidentally depend on wall-clock
// ordering guarantees beyond what time.Now provides; kept as a var for
// substitution in tests that need a frozen clock.
var clockNow = time.Now
