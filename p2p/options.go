package p2p

import "time"

// Options configures a PeerNetwork at construction time. All durations
// are accepted as time.Duration but mirror the *Ms names in the wire
// specification's config table.
type Options struct {
	// Relays is a static list of location hints handed to every peer's
	// hint set at startup, merged with whatever RegisterLocationHints
	// adds later.
	Relays []LocationHint

	// MaxQueue bounds the per-peer pending-message FIFO.
	MaxQueue int
	// MaxRetryAttempts bounds reconnection attempts per episode; 0 means
	// unbounded.
	MaxRetryAttempts int
	// MaxConcurrentConnections bounds simultaneously installed channels
	// across all peers.
	MaxConcurrentConnections int
	// MaxMessageSizeBytes bounds a single serialized payload.
	MaxMessageSizeBytes int

	// CleanupInterval is the period of the stale-peer sweep.
	CleanupInterval time.Duration
	// StalePeerTimeout is the idle duration after which an inactive,
	// disconnected, non-reconnecting peer is garbage-collected.
	StalePeerTimeout time.Duration
	// WriteTimeout bounds each channel write.
	WriteTimeout time.Duration

	// ProtocolConstraint is checked, via Masterminds/semver, against a
	// peer's handshake protocol version before a channel is installed.
	ProtocolConstraint string
	// ChecksumKey, if 32 bytes, enables a highwayhash frame checksum.
	// The zero value disables the check.
	ChecksumKey []byte

	// BackoffInitial, BackoffMax, BackoffJitter configure the
	// cenkalti/backoff exponential backoff used by ReconnectionManager.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64

	// OnRemoteGiveUp, if set, fires exactly once per give-up episode.
	OnRemoteGiveUp OnRemoteGiveUp
}

// DefaultOptions returns the configuration table's defaults from §6.
func DefaultOptions() Options {
	return Options{
		MaxQueue:                 200,
		MaxRetryAttempts:         0,
		MaxConcurrentConnections: 100,
		MaxMessageSizeBytes:      1_048_576,
		CleanupInterval:          15 * time.Minute,
		StalePeerTimeout:         30 * time.Minute,
		WriteTimeout:             10 * time.Second,
		ProtocolConstraint:       ">= 1.0.0, < 2.0.0",
		BackoffInitial:           500 * time.Millisecond,
		BackoffMax:               30 * time.Second,
		BackoffJitter:            0.2,
	}
}

// withDefaults fills any zero-valued field of o with DefaultOptions,
// leaving explicit zero for fields where zero is meaningful
// (MaxRetryAttempts=0 means unbounded, ChecksumKey=nil means disabled).
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxQueue == 0 {
		o.MaxQueue = d.MaxQueue
	}
	if o.MaxConcurrentConnections == 0 {
		o.MaxConcurrentConnections = d.MaxConcurrentConnections
	}
	if o.MaxMessageSizeBytes == 0 {
		o.MaxMessageSizeBytes = d.MaxMessageSizeBytes
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = d.CleanupInterval
	}
	if o.StalePeerTimeout == 0 {
		o.StalePeerTimeout = d.StalePeerTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.ProtocolConstraint == "" {
		o.ProtocolConstraint = d.ProtocolConstraint
	}
	if o.BackoffInitial == 0 {
		o.BackoffInitial = d.BackoffInitial
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.BackoffJitter == 0 {
		o.BackoffJitter = d.BackoffJitter
	}
	return o
}
