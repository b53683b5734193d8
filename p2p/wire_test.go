package p2p

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWireRoundTrip(t *testing.T) {
	ack := uint32(4)
	msg := wireMessage{Seq: 5, Ack: &ack, Method: "ping", Params: []any{"a", float64(1)}}
	frame, err := encodeWire(msg, nil)
	require.NoError(t, err)

	got, err := decodeWire(frame, nil)
	require.NoError(t, err)
	require.Equal(t, msg.Seq, got.Seq)
	require.Equal(t, *msg.Ack, *got.Ack)
	require.Equal(t, msg.Method, got.Method)
}

func TestEncodeDecodeWireChecksumMismatchIsRetryable(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	frame, err := encodeWire(wireMessage{Seq: 1, Method: "ping"}, key)
	require.NoError(t, err)

	var tampered wireMessage
	require.NoError(t, json.Unmarshal(frame, &tampered))
	tampered.Method = "pong" // change the payload without touching the stale checksum
	frame, err = json.Marshal(tampered)
	require.NoError(t, err)

	_, err = decodeWire(frame, key)
	require.Error(t, err)
	require.True(t, isRetryableInternal(err))
}

func TestIsHandshakeFrame(t *testing.T) {
	hs := wireMessage{Seq: 0, Proto: "1.0.0"}
	require.True(t, hs.isHandshake())

	data := wireMessage{Seq: 1, Method: "ping"}
	require.False(t, data.isHandshake())
}

func TestValidateMessageSizeRejectsOversized(t *testing.T) {
	big := make([]any, 0)
	for i := 0; i < 10000; i++ {
		big = append(big, "0123456789")
	}
	err := validateMessageSize("m", big, 64)
	require.ErrorIs(t, err, ErrResourceLimit)
}

func TestValidateMessageSizeAllowsWithinLimit(t *testing.T) {
	require.NoError(t, validateMessageSize("ping", []any{"hi"}, 1024))
}
