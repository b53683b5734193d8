package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/minio/highwayhash"
)

// protocolVersion is this build's handshake protocol version, checked by
// the remote against its own ProtocolConstraint.
const protocolVersion = "1.0.0"

// wireMessage is the envelope written to and read from a Channel. Seq=0
// is reserved for the handshake frame (Proto set, no Method/Params) and
// for pure-ACK frames (Proto empty, Ack set) — the latter let a purely
// inbound stream's receiver acknowledge data without waiting for its own
// reverse traffic to piggyback on.
type wireMessage struct {
	Seq      uint32 `json:"seq"`
	Ack      *uint32 `json:"ack,omitempty"`
	Method   string  `json:"method,omitempty"`
	Params   []any   `json:"params,omitempty"`
	Proto    string  `json:"proto,omitempty"`
	Checksum uint64  `json:"checksum,omitempty"`
}

func (w *wireMessage) isHandshake() bool { return w.Seq == 0 && w.Proto != "" }

// encodeWire serializes msg and, if key is 32 bytes long, stamps a
// highwayhash checksum computed over the pre-checksum encoding.
func encodeWire(msg wireMessage, key []byte) ([]byte, error) {
	msg.Checksum = 0
	if len(key) == highwayhash.Size {
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, err
		}
		sum, err := highwayhash.Sum64(raw, key)
		if err != nil {
			return nil, err
		}
		msg.Checksum = sum
	}
	return json.Marshal(msg)
}

// decodeWire parses a frame and, if key is 32 bytes long and the frame
// carries a non-zero checksum, verifies it. A mismatch returns
// errRetryableNetwork: corruption at this layer is indistinguishable from
// a transient transport fault.
func decodeWire(b []byte, key []byte) (wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return wireMessage{}, fmt.Errorf("p2p: decode frame: %w", err)
	}
	if len(key) == highwayhash.Size && msg.Checksum != 0 {
		want := msg.Checksum
		msg.Checksum = 0
		raw, err := json.Marshal(msg)
		if err != nil {
			return wireMessage{}, err
		}
		got, err := highwayhash.Sum64(raw, key)
		if err != nil {
			return wireMessage{}, err
		}
		if got != want {
			return wireMessage{}, wrapInternal(errRetryableNetwork, fmt.Errorf("p2p: checksum mismatch"))
		}
	}
	return msg, nil
}

// validateMessageSize enforces Options.MaxMessageSizeBytes against the
// serialized size of a candidate send, independent of checksum/proto
// overhead (the handshake frame is exempt entirely; it never goes
// through this path).
func validateMessageSize(method string, params []any, maxBytes int) error {
	raw, err := json.Marshal(wireMessage{Method: method, Params: params})
	if err != nil {
		return err
	}
	if len(raw) > maxBytes {
		return ErrResourceLimit
	}
	return nil
}
