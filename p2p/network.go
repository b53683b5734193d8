package p2p

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// PeerNetwork is the public coordinator: it owns the peer table and the
// global lifecycle, and is the only component application code talks to
// directly. Reader tasks and ReconnectionLoops run as goroutines that
// hold the *PeerNetwork and look their peer's state up through the peer
// table once, when they start; the state itself holds no pointer back to
// the PeerNetwork.
type PeerNetwork struct {
	tableMu deadlock.RWMutex
	peers   map[PeerID]*peerConnectionState

	opts       Options
	factory    ChannelFactory
	handler    ApplicationHandler
	classifier ErrorClassifier
	metrics    *Metrics
	logger     log.Logger
	rm         *reconnectionManager
	connSem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	loops    *errgroup.Group
	stopOnce sync.Once
	stopped  atomic.Bool

	cleanupStop chan struct{}
	wakeCleanup func()
}

// New constructs a PeerNetwork. factory is required; handler, classifier,
// wake and metrics may be nil. With no handler inbound data frames are
// acknowledged but not delivered; with no classifier every error is
// treated as retryable and none as an intentional remote disconnect; with
// no wake detector backoffs are never reset on wake; nil metrics means
// NopMetrics.
func New(opts Options, factory ChannelFactory, handler ApplicationHandler, classifier ErrorClassifier, wake WakeDetector, metrics *Metrics) *PeerNetwork {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group // loops derive cancellation from n.ctx directly
	if metrics == nil {
		metrics = NopMetrics()
	}
	n := &PeerNetwork{
		peers:       make(map[PeerID]*peerConnectionState),
		opts:        opts,
		factory:     factory,
		handler:     handler,
		classifier:  classifier,
		metrics:     metrics,
		logger:      newLogger("peernetwork"),
		rm:          newReconnectionManager(opts),
		connSem:     semaphore.NewWeighted(int64(opts.MaxConcurrentConnections)),
		ctx:         ctx,
		cancel:      cancel,
		loops:       &g,
		cleanupStop: make(chan struct{}),
	}
	n.factory.OnInboundConnection(n.handleInboundConnection)
	n.startStaleCleanup()
	if wake != nil {
		n.wakeCleanup = wake(func() {
			logInfo(n.logger, "event", "wake", "msg", "resetting all reconnection backoffs")
			n.rm.resetAllBackoffs()
		})
	}
	return n
}

func (n *PeerNetwork) getOrCreatePeer(peerID PeerID) *peerConnectionState {
	n.tableMu.RLock()
	s, ok := n.peers[peerID]
	n.tableMu.RUnlock()
	if ok {
		return s
	}
	n.tableMu.Lock()
	defer n.tableMu.Unlock()
	if s, ok = n.peers[peerID]; ok {
		return s
	}
	s = newPeerConnectionState(peerID, n.opts.MaxQueue)
	s.mergeHints(n.opts.Relays)
	n.peers[peerID] = s
	return s
}

func (n *PeerNetwork) getPeer(peerID PeerID) (*peerConnectionState, bool) {
	n.tableMu.RLock()
	defer n.tableMu.RUnlock()
	s, ok := n.peers[peerID]
	return s, ok
}

// Send validates and enqueues message for peerID, returning a Completion
// that resolves on ACK and rejects on give-up, intentional close, or
// stop. See §4.1 for the full decision tree this implements.
func (n *PeerNetwork) Send(ctx context.Context, peerID PeerID, method string, params []any) (*Completion, error) {
	if err := validateMessageSize(method, params, n.opts.MaxMessageSizeBytes); err != nil {
		return nil, err
	}
	if n.stopped.Load() {
		return nil, ErrStopped
	}

	s := n.getOrCreatePeer(peerID)

	s.mu.Lock()
	if s.intentionallyClosed {
		s.mu.Unlock()
		return nil, ErrIntentionallyClosed
	}
	if s.pending.length() >= s.pending.capacity {
		s.mu.Unlock()
		return nil, ErrResourceLimit
	}
	wasEmpty := s.pending.length() == 0
	seq := s.nextSeqLocked()
	if wasEmpty {
		s.startSeq = seq
	}
	pm := &pendingMessage{method: method, params: params, completion: newCompletion()}
	s.pending.enqueue(pm)
	index := s.pending.length() - 1
	reconnecting := n.rm.isReconnecting(peerID)
	s.mu.Unlock()

	n.metrics.setPendingQueueSize(peerID, index+1)

	if reconnecting {
		// Queued for the ReconnectionLoop's flush; never dial here.
		return pm.completion, nil
	}

	n.transmitOrLose(ctx, peerID, s, pm, index, seq)
	return pm.completion, nil
}

// transmitOrLose attempts one immediate transmission for a freshly
// enqueued (non-reconnecting) send, dialing a channel if none is
// installed. Any failure triggers the connection-loss path; the
// message's completion is left pending either way.
func (n *PeerNetwork) transmitOrLose(ctx context.Context, peerID PeerID, s *peerConnectionState, pm *pendingMessage, index int, seq uint32) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()

	if ch == nil {
		dialed, err := n.dialAndInstall(ctx, peerID, s, true)
		if err != nil {
			n.handleConnectionLoss(peerID, err)
			return
		}
		ch = dialed
	}

	s.mu.Lock()
	pm.sendTimestamp = clockNow()
	s.mu.Unlock()

	if err := n.transmit(ctx, peerID, s, ch, pm, seq); err != nil {
		n.handleConnectionLoss(peerID, err)
	}
}

// dialAndInstall dials a fresh channel, performs the handshake, installs
// it, and spawns its reader. retry mirrors the ChannelFactory contract's
// retry flag and also selects where the concurrent-connection limit is
// checked: Send's immediate dial (retry=true, §4.1) checks the limit
// before dialing; the ReconnectionLoop's dial (retry=false, §4.2 step 4)
// dials first and rechecks the limit only after a successful dial,
// closing and retrying if it's since been exceeded.
func (n *PeerNetwork) dialAndInstall(ctx context.Context, peerID PeerID, s *peerConnectionState, retry bool) (Channel, error) {
	if retry {
		if !n.connSem.TryAcquire(1) {
			return nil, wrapInternal(errRetryableNetwork, errConnLimitReached)
		}
	}

	ch, err := n.factory.DialIdempotent(ctx, peerID, s.hintSlice(), retry)
	if err != nil {
		if retry {
			n.connSem.Release(1)
		}
		return nil, err
	}

	if !retry {
		if !n.connSem.TryAcquire(1) {
			_ = n.factory.CloseChannel(ctx, ch, peerID)
			return nil, wrapInternal(errRetryableNetwork, errConnLimitReached)
		}
	}

	if err := performHandshake(ctx, ch, n.opts); err != nil {
		n.connSem.Release(1)
		_ = n.factory.CloseChannel(ctx, ch, peerID)
		return nil, err
	}
	s.mu.Lock()
	if !retry && s.channel != nil {
		// A live channel (typically an inbound install) arrived while this
		// reconnection dial was in flight: keep it and drop the dialed one.
		existing := s.channel
		s.mu.Unlock()
		n.connSem.Release(1)
		_ = n.factory.CloseChannel(ctx, ch, peerID)
		return existing, nil
	}
	old := s.installChannelLocked(ch)
	broken := s.channelBroken
	s.mu.Unlock()
	if old != nil {
		n.connSem.Release(1)
		n.metrics.channelReleased()
		_ = n.factory.CloseChannel(ctx, old, peerID)
	}
	n.metrics.channelInstalled()
	n.spawnReader(peerID, ch, broken)
	return ch, nil
}

// transmit writes one frame for pm at seq, piggybacking the current
// highestReceivedSeq as ack. On success it resets backoff and refreshes
// lastActivity (§4.1 step 3); on failure it releases the channel so the
// next attempt redials.
func (n *PeerNetwork) transmit(ctx context.Context, peerID PeerID, s *peerConnectionState, ch Channel, pm *pendingMessage, seq uint32) error {
	s.mu.Lock()
	var ack *uint32
	if s.highestReceivedSeq > 0 {
		v := s.highestReceivedSeq
		ack = &v
	}
	s.mu.Unlock()

	frame, err := encodeWire(wireMessage{Seq: seq, Ack: ack, Method: pm.method, Params: pm.params}, n.opts.ChecksumKey)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, n.opts.WriteTimeout)
	defer cancel()
	writeErr := ch.Write(wctx, frame)

	if writeErr != nil {
		n.releaseChannel(peerID, s, ch)
		if wctx.Err() != nil {
			return wrapInternal(errWriteTimeout, writeErr)
		}
		if n.classifier != nil && n.classifier.IsRetryableNetworkError(writeErr) {
			return wrapInternal(errRetryableNetwork, writeErr)
		}
		return wrapInternal(errRetryableNetwork, writeErr)
	}

	n.metrics.sent(peerID, len(frame))
	n.rm.resetBackoff(peerID)
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	return nil
}

// sendAck writes a pure seq=0 frame carrying ack back on ch, so that a
// purely inbound stream still resolves the remote's sends: piggyback
// acks alone would otherwise require reverse data traffic, which an
// application that only receives may never produce. Called by readLoop
// on every inbound data frame. A write failure here is a connection
// loss exactly like a failed transmit.
func (n *PeerNetwork) sendAck(ctx context.Context, peerID PeerID, s *peerConnectionState, ch Channel, ack uint32) error {
	frame, err := encodeWire(wireMessage{Seq: 0, Ack: &ack}, n.opts.ChecksumKey)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, n.opts.WriteTimeout)
	defer cancel()
	if writeErr := ch.Write(wctx, frame); writeErr != nil {
		n.releaseChannel(peerID, s, ch)
		if wctx.Err() != nil {
			return wrapInternal(errWriteTimeout, writeErr)
		}
		return wrapInternal(errRetryableNetwork, writeErr)
	}

	n.metrics.sent(peerID, len(frame))
	return nil
}

func (n *PeerNetwork) releaseChannel(peerID PeerID, s *peerConnectionState, expect Channel) {
	s.mu.Lock()
	if s.channel != expect {
		s.mu.Unlock()
		return
	}
	old := s.releaseChannelLocked()
	s.mu.Unlock()
	if old != nil {
		n.connSem.Release(1)
		n.metrics.channelReleased()
		_ = n.factory.CloseChannel(n.ctx, old, peerID)
	}
}

// handleConnectionLoss starts a ReconnectionLoop for peerID unless one
// is already running, in which case it is a no-op (the running loop
// will itself observe the failure on its next write/read).
func (n *PeerNetwork) handleConnectionLoss(peerID PeerID, cause error) {
	if n.stopped.Load() {
		return
	}
	if n.rm.isReconnecting(peerID) {
		return
	}
	logWarn(n.logger, "event", "connection_loss", "peer", peerID, "err", cause)
	n.startReconnectLoop(peerID)
}

func (n *PeerNetwork) startReconnectLoop(peerID PeerID) {
	n.rm.startReconnection(peerID)
	loopID := uuid.NewString()
	n.loops.Go(func() error {
		runReconnectionLoop(n, peerID, loopID)
		return nil
	})
}

// CloseConnection marks peerID as intentionally closed: it stops any
// reconnection loop by flag (the loop observes intentionallyClosed on
// its next iteration), rejects all pending completions, and releases
// the channel. Idempotent.
func (n *PeerNetwork) CloseConnection(peerID PeerID) {
	s, ok := n.getPeer(peerID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.intentionallyClosed = true
	s.rejectAllPendingLocked(ErrIntentionallyClosed)
	s.clearSequenceNumbersLocked()
	old := s.releaseChannelLocked()
	s.mu.Unlock()

	n.metrics.setPendingQueueSize(peerID, 0)
	n.rm.stopReconnection(peerID)
	if old != nil {
		n.connSem.Release(1)
		n.metrics.channelReleased()
		_ = n.factory.CloseChannel(n.ctx, old, peerID)
	}
}

// ReconnectPeer clears intentionallyClosed, merges hints, and starts a
// reconnection loop if none is active.
func (n *PeerNetwork) ReconnectPeer(peerID PeerID, hints []LocationHint) {
	s := n.getOrCreatePeer(peerID)
	s.mu.Lock()
	s.intentionallyClosed = false
	s.mu.Unlock()
	s.mergeHints(hints)
	if !n.rm.isReconnecting(peerID) {
		n.startReconnectLoop(peerID)
	}
}

// RegisterLocationHints union-merges hints into peerID's hint set.
func (n *PeerNetwork) RegisterLocationHints(peerID PeerID, hints []LocationHint) {
	n.getOrCreatePeer(peerID).mergeHints(hints)
}

// HandleAck resolves every pending message with sequence <= ackSeq. Out
// of range or stale ACKs are silently ignored. This is the same entry
// point used internally when a reader demultiplexes an inbound Ack.
func (n *PeerNetwork) HandleAck(peerID PeerID, ackSeq uint32) {
	s, ok := n.getPeer(peerID)
	if !ok {
		return
	}
	s.mu.Lock()
	before := s.pending.length()
	s.ackMessagesLocked(ackSeq)
	resolved := before - s.pending.length()
	s.touch()
	remaining := s.pending.length()
	s.mu.Unlock()

	for i := 0; i < resolved; i++ {
		n.metrics.acked()
	}
	n.metrics.setPendingQueueSize(peerID, remaining)
}

// UpdateReceivedSeq raises highestReceivedSeq if seq exceeds it; the
// value is used as the piggyback ack on outbound frames.
func (n *PeerNetwork) UpdateReceivedSeq(peerID PeerID, seq uint32) {
	s := n.getOrCreatePeer(peerID)
	s.mu.Lock()
	if seq > s.highestReceivedSeq {
		s.highestReceivedSeq = seq
	}
	s.touch()
	s.mu.Unlock()
}

// Stop cancels the global signal, stops all reconnection loops and the
// stale-cleanup timer, rejects every pending completion with Stopped,
// closes the channel factory, and awaits clean exit of every per-peer
// loop. Idempotent.
func (n *PeerNetwork) Stop(ctx context.Context) error {
	var waitErr error
	n.stopOnce.Do(func() {
		n.stopped.Store(true)
		n.cancel()
		close(n.cleanupStop)
		if n.wakeCleanup != nil {
			n.wakeCleanup()
		}

		n.tableMu.RLock()
		ids := make([]PeerID, 0, len(n.peers))
		for id := range n.peers {
			ids = append(ids, id)
		}
		n.tableMu.RUnlock()

		for _, id := range ids {
			s, ok := n.getPeer(id)
			if !ok {
				continue
			}
			s.mu.Lock()
			s.rejectAllPendingLocked(ErrStopped)
			old := s.releaseChannelLocked()
			s.mu.Unlock()
			n.rm.stopReconnection(id)
			if old != nil {
				n.connSem.Release(1)
				n.metrics.channelReleased()
				_ = n.factory.CloseChannel(ctx, old, id)
			}
		}

		_ = n.factory.Stop(ctx)
		waitErr = n.loops.Wait()
	})
	return waitErr
}

// errConnLimitReached is a sentinel cause wrapped as retryable so
// handleConnectionLoss/ReconnectionLoop treat a saturated connection
// pool exactly like a transient dial failure: back off and try again.
var errConnLimitReached = errConnLimit{}

type errConnLimit struct{}

func (errConnLimit) Error() string { return "p2p: concurrent connection limit reached" }

func (n *PeerNetwork) handleInboundConnection(peerID PeerID, ch Channel) {
	s := n.getOrCreatePeer(peerID)

	s.mu.Lock()
	closed := s.intentionallyClosed
	s.mu.Unlock()
	if closed {
		_ = n.factory.CloseChannel(n.ctx, ch, peerID)
		return
	}

	if !n.connSem.TryAcquire(1) {
		_ = n.factory.CloseChannel(n.ctx, ch, peerID)
		return
	}

	if err := performHandshake(n.ctx, ch, n.opts); err != nil {
		n.connSem.Release(1)
		logWarn(n.logger, "event", "handshake_failed", "peer", peerID, "err", err)
		_ = n.factory.CloseChannel(n.ctx, ch, peerID)
		return
	}

	s.mu.Lock()
	old := s.installChannelLocked(ch)
	broken := s.channelBroken
	reconnecting := n.rm.isReconnecting(peerID)
	s.mu.Unlock()

	if old != nil {
		n.connSem.Release(1)
		n.metrics.channelReleased()
		_ = n.factory.CloseChannel(n.ctx, old, peerID)
	}
	n.metrics.channelInstalled()
	n.spawnReader(peerID, ch, broken)

	if reconnecting {
		notifyLiveChannel(peerID)
	}
}

// liveChannelSignals lets a waiting ReconnectionLoop learn that an
// inbound install gave it a channel without it having to poll.
var liveChannelSignals sync.Map // PeerID -> chan struct{}

func notifyLiveChannel(peerID PeerID) {
	if v, ok := liveChannelSignals.Load(peerID); ok {
		select {
		case v.(chan struct{}) <- struct{}{}:
		default:
		}
	}
}

func waitForLiveChannelSignal(peerID PeerID) chan struct{} {
	ch := make(chan struct{}, 1)
	liveChannelSignals.Store(peerID, ch)
	return ch
}

func clearLiveChannelSignal(peerID PeerID) {
	liveChannelSignals.Delete(peerID)
}
