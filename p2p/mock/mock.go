// Package mock provides in-memory fakes for p2p.ChannelFactory and
// p2p.ErrorClassifier, useful for testing without a real transport.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/capmesh/peernet/p2p"
)

// pipe is an in-memory, unbuffered-ish full-duplex p2p.Channel backed by
// two byte-slice channels. Reads block until a frame is written from the
// other end or the pipe is closed.
type pipe struct {
	out    chan []byte
	in     chan []byte
	mu     sync.Mutex
	closed bool
}

func newPipePair() (*pipe, *pipe) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &pipe{out: ab, in: ba}, &pipe{out: ba, in: ab}
}

func (p *pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-p.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Write(ctx context.Context, b []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errClosedPipe
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case p.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	return nil
}

var errClosedPipe = errors.New("mock: pipe closed")

// Factory is an in-process p2p.ChannelFactory: DialIdempotent creates an
// in-memory pipe pair, hands one end back to the caller, and delivers
// the other end to the configured peer's inbound callback (if any peer
// is registered to accept it via Connect). Useful for exercising
// PeerNetwork against another PeerNetwork, or against a scripted peer,
// without a real socket.
type Factory struct {
	mu       sync.Mutex
	inbound  func(peerID p2p.PeerID, ch p2p.Channel)
	peers    map[p2p.PeerID]*Factory
	selfID   p2p.PeerID
	stopped  bool
	dialErrs map[p2p.PeerID]error
	dialed   map[p2p.PeerID]*pipe
}

// NewFactory returns a Factory identifying itself as selfID to peers it
// dials into.
func NewFactory(selfID p2p.PeerID) *Factory {
	return &Factory{
		selfID:   selfID,
		peers:    make(map[p2p.PeerID]*Factory),
		dialErrs: make(map[p2p.PeerID]error),
		dialed:   make(map[p2p.PeerID]*pipe),
	}
}

// Disconnect closes this Factory's end of the most recent channel dialed
// to peerID, so the next write on it fails and the remote end's reader
// sees end-of-stream. Used to simulate a retryable network loss on an
// already-installed channel.
func (f *Factory) Disconnect(peerID p2p.PeerID) {
	f.mu.Lock()
	p := f.dialed[peerID]
	f.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
}

// Connect registers other as reachable at other's own self ID, and
// symmetrically registers f with other, so either side can dial the
// other by PeerID.
func (f *Factory) Connect(other *Factory) {
	f.mu.Lock()
	f.peers[other.selfID] = other
	f.mu.Unlock()
	other.mu.Lock()
	other.peers[f.selfID] = f
	other.mu.Unlock()
}

// FailDial makes every DialIdempotent call to peerID return err instead
// of connecting, until cleared by a nil err.
func (f *Factory) FailDial(peerID p2p.PeerID, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.dialErrs, peerID)
		return
	}
	f.dialErrs[peerID] = err
}

func (f *Factory) DialIdempotent(ctx context.Context, peerID p2p.PeerID, hints []p2p.LocationHint, retry bool) (p2p.Channel, error) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil, errClosedPipe
	}
	if err, ok := f.dialErrs[peerID]; ok {
		f.mu.Unlock()
		return nil, err
	}
	remote, ok := f.peers[peerID]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("mock: unknown peer " + string(peerID))
	}

	mine, theirs := newPipePair()

	f.mu.Lock()
	f.dialed[peerID] = mine
	f.mu.Unlock()

	remote.mu.Lock()
	cb := remote.inbound
	remote.mu.Unlock()
	if cb != nil {
		// Run asynchronously: a real accept happens on its own connection
		// goroutine, and the acceptor's handshake read would otherwise
		// deadlock waiting on a write this call hasn't made yet.
		go cb(f.selfID, theirs)
	}
	return mine, nil
}

func (f *Factory) OnInboundConnection(cb func(peerID p2p.PeerID, ch p2p.Channel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = cb
}

func (f *Factory) CloseChannel(ctx context.Context, ch p2p.Channel, peerID p2p.PeerID) error {
	return ch.Close()
}

func (f *Factory) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

// Classifier is a nop p2p.ErrorClassifier: every error is retryable and
// none is treated as an intentional remote disconnect. Tests that need
// specific classification wrap Classifier or implement p2p.ErrorClassifier
// directly.
type Classifier struct{}

var _ p2p.ErrorClassifier = Classifier{}

func (Classifier) IsRetryableNetworkError(error) bool       { return true }
func (Classifier) IsIntentionalRemoteDisconnect(error) bool { return false }
