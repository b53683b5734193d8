package p2p

import (
	"context"

	"github.com/Masterminds/semver/v3"
)

// performHandshake exchanges a single Seq=0 frame in each direction
// carrying the local protocolVersion, then checks the remote's version
// against opts.ProtocolConstraint. Either side failing the other's
// constraint is a non-retryable install failure (errProtocolMismatch);
// malformed or missing frames are retryable, since they're as likely to
// be a torn connection as a genuine incompatible peer.
func performHandshake(ctx context.Context, ch Channel, opts Options) error {
	out, err := encodeWire(wireMessage{Seq: 0, Proto: protocolVersion}, opts.ChecksumKey)
	if err != nil {
		return err
	}
	if err := ch.Write(ctx, out); err != nil {
		return wrapInternal(errRetryableNetwork, err)
	}

	frame, err := ch.Read(ctx)
	if err != nil {
		return wrapInternal(errRetryableNetwork, err)
	}
	msg, err := decodeWire(frame, opts.ChecksumKey)
	if err != nil {
		return wrapInternal(errRetryableNetwork, err)
	}
	if !msg.isHandshake() {
		return wrapInternal(errRetryableNetwork, errMissingHandshake)
	}

	constraint, err := semver.NewConstraint(opts.ProtocolConstraint)
	if err != nil {
		return err
	}
	remote, err := semver.NewVersion(msg.Proto)
	if err != nil {
		return wrapInternal(errRetryableNetwork, err)
	}
	if !constraint.Check(remote) {
		return errProtocolMismatch
	}
	return nil
}
