package p2p

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeChannel is a minimal Channel double: Write records frames (or
// simulates a slow write via writeDelay), Read replays a canned
// sequence of frames and then blocks until ctx is cancelled.
type fakeChannel struct {
	mu         sync.Mutex
	writes     [][]byte
	reads      [][]byte
	readIdx    int
	writeDelay time.Duration
	closed     bool
}

func (c *fakeChannel) Write(ctx context.Context, b []byte) error {
	if c.writeDelay > 0 {
		select {
		case <-time.After(c.writeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeChannel) Read(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.readIdx < len(c.reads) {
		f := c.reads[c.readIdx]
		c.readIdx++
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func handshakeReply() []byte {
	frame, err := encodeWire(wireMessage{Seq: 0, Proto: protocolVersion}, nil)
	if err != nil {
		panic(err)
	}
	return frame
}

// nopFactory satisfies ChannelFactory without dialing anywhere; these
// tests drive handleInboundConnection and transmit directly. CloseChannel
// closes the channel it is handed, as a real factory does.
type nopFactory struct{}

func (nopFactory) DialIdempotent(context.Context, PeerID, []LocationHint, bool) (Channel, error) {
	return nil, errors.New("dial not used in this test")
}
func (nopFactory) OnInboundConnection(func(PeerID, Channel)) {}
func (nopFactory) CloseChannel(_ context.Context, ch Channel, _ PeerID) error {
	return ch.Close()
}
func (nopFactory) Stop(context.Context) error { return nil }

func newTestNetwork(opts Options) *PeerNetwork {
	return New(opts, nopFactory{}, nil, nil, nil, nil)
}

func TestHandleInboundConnectionRejectsBeyondConcurrentLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxConcurrentConnections = 1
	n := newTestNetwork(opts)
	defer func() { require.NoError(t, n.Stop(context.Background())) }()

	first := &fakeChannel{reads: [][]byte{handshakeReply()}}
	n.handleInboundConnection("peer-a", first)
	require.False(t, first.closed)

	second := &fakeChannel{reads: [][]byte{handshakeReply()}}
	n.handleInboundConnection("peer-b", second)
	require.True(t, second.closed, "inbound connection beyond the concurrent-connection cap must be rejected")

	s, ok := n.getPeer("peer-a")
	require.True(t, ok)
	s.mu.Lock()
	installed := s.channel != nil
	s.mu.Unlock()
	require.True(t, installed, "the first peer's channel must be undisturbed")
}

func TestTransmitWithinWriteTimeoutSucceeds(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteTimeout = 50 * time.Millisecond
	n := newTestNetwork(opts)
	defer func() { require.NoError(t, n.Stop(context.Background())) }()

	s := n.getOrCreatePeer("peer-a")
	ch := &fakeChannel{writeDelay: 5 * time.Millisecond}
	pm := &pendingMessage{method: "ping", completion: newCompletion()}

	err := n.transmit(context.Background(), "peer-a", s, ch, pm, 1)
	require.NoError(t, err)
	require.Len(t, ch.writes, 1)
}

func TestTransmitBeyondWriteTimeoutIsRetryable(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteTimeout = 10 * time.Millisecond
	n := newTestNetwork(opts)
	defer func() { require.NoError(t, n.Stop(context.Background())) }()

	s := n.getOrCreatePeer("peer-a")
	ch := &fakeChannel{writeDelay: 100 * time.Millisecond}
	// Take the connection slot an installed channel holds, as
	// dialAndInstall and handleInboundConnection do; releaseChannel gives
	// it back.
	n.connSem.TryAcquire(1)
	s.mu.Lock()
	s.installChannelLocked(ch)
	s.mu.Unlock()

	pm := &pendingMessage{method: "ping", completion: newCompletion()}

	err := n.transmit(context.Background(), "peer-a", s, ch, pm, 1)
	require.Error(t, err)
	require.True(t, isRetryableInternal(err))
	require.True(t, errors.Is(err, errWriteTimeout))

	s.mu.Lock()
	released := s.channel == nil
	s.mu.Unlock()
	require.True(t, released, "a write-timeout failure must release the channel")
}
