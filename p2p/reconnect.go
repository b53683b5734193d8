package p2p

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/go-kit/log"
)

// errChannelBroken is the cause a flush reports when its channel's
// reader exits (for any reason) while a flushed message is still
// awaiting ACK.
var errChannelBroken = errors.New("p2p: channel broken during flush")

// errProtocolMismatch is a non-retryable install failure: the peer's
// handshake protocol version failed the local ProtocolConstraint.
var errProtocolMismatch = errors.New("p2p: protocol version mismatch")

// runReconnectionLoop is the per-peer cooperative task started on first
// detection of connection loss. Exactly one runs per peer at a time,
// witnessed by ReconnectionManager.isReconnecting; see §4.2.
func runReconnectionLoop(n *PeerNetwork, peerID PeerID, loopID string) {
	logger := log.With(n.logger, "peer", peerID, "loop", loopID)
	s := n.getOrCreatePeer(peerID)

	liveCh := waitForLiveChannelSignal(peerID)
	defer clearLiveChannelSignal(peerID)
	defer n.rm.stopReconnection(peerID)

	for {
		s.mu.Lock()
		closed := s.intentionallyClosed
		s.mu.Unlock()
		if closed {
			logDebug(logger, "event", "loop_exit", "reason", "intentionally_closed")
			return
		}
		if n.ctx.Err() != nil {
			logDebug(logger, "event", "loop_exit", "reason", "cancelled")
			return
		}

		n.rm.incrementAttempt(peerID)
		n.metrics.reconnectAttempt(peerID)
		if !n.rm.shouldRetry(peerID, n.opts.MaxRetryAttempts) {
			logWarn(logger, "event", "give_up", "reason", "attempts_exhausted")
			n.giveUp(peerID, s)
			return
		}

		delay := n.rm.calculateBackoff(peerID)
		select {
		case <-time.After(delay):
		case <-liveCh:
			// A live channel appeared (inbound install) while we waited;
			// skip dialing entirely per §4.2 step 3.
		case <-n.ctx.Done():
			return
		}

		s.mu.Lock()
		ch, broken := s.currentLocked()
		s.mu.Unlock()

		if ch == nil {
			dialed, err := n.dialAndInstall(n.ctx, peerID, s, false)
			if err != nil {
				if n.ctx.Err() != nil {
					return
				}
				if !dialErrRetryable(n, err) {
					logWarn(logger, "event", "give_up", "reason", "non_retryable_dial", "err", err)
					n.giveUp(peerID, s)
					return
				}
				logDebug(logger, "event", "dial_failed", "err", err)
				continue
			}
			ch = dialed
			s.mu.Lock()
			_, broken = s.currentLocked()
			s.mu.Unlock()
		}

		if err := n.flush(n.ctx, peerID, s, ch, broken); err != nil {
			if n.ctx.Err() != nil {
				return
			}
			logDebug(logger, "event", "flush_failed", "err", err)
			continue
		}

		n.rm.stopReconnection(peerID)
		n.rm.resetBackoff(peerID)
		s.mu.Lock()
		s.touch()
		s.mu.Unlock()
		logInfo(logger, "event", "loop_exit", "reason", "flushed")
		return
	}
}

// dialErrRetryable classifies a dial/install failure. Protocol mismatch
// is always non-retryable; the connection-limit sentinel is always
// retryable (capacity may free up); everything else defers to the
// configured ErrorClassifier, defaulting to retryable when none is set.
func dialErrRetryable(n *PeerNetwork, err error) bool {
	if errors.Is(err, errProtocolMismatch) {
		return false
	}
	if errors.Is(err, errConnLimitReached) || isRetryableInternal(err) {
		return true
	}
	if n.classifier != nil {
		return n.classifier.IsRetryableNetworkError(err)
	}
	return true
}

// flush transmits every currently pending message in order on ch,
// waiting for each to be acknowledged (removed from the queue by
// HandleAck) before sending the next, until the queue drains or the
// channel breaks.
func (n *PeerNetwork) flush(ctx context.Context, peerID PeerID, s *peerConnectionState, ch Channel, broken chan struct{}) error {
	for {
		s.mu.Lock()
		if s.pending.length() == 0 {
			s.mu.Unlock()
			return nil
		}
		head := s.pending.peekFirst()
		seq := s.seqAtLocked(0)
		notify := s.ackNotify
		if head.sendTimestamp.IsZero() {
			head.sendTimestamp = clockNow()
		} else {
			head.retryCount++
		}
		s.mu.Unlock()

		if err := n.transmit(ctx, peerID, s, ch, head, seq); err != nil {
			return err
		}

		for {
			s.mu.Lock()
			stillHead := s.pending.peekFirst() == head
			s.mu.Unlock()
			if !stillHead {
				break
			}
			select {
			case <-notify:
			case <-broken:
				return errChannelBroken
			case <-ctx.Done():
				return wrapInternal(errCancelled, ctx.Err())
			}
		}
	}
}

// giveUp rejects every pending completion with ErrGaveUp, invokes
// OnRemoteGiveUp exactly once, releases the channel, and resets backoff
// so the next episode (from a fresh Send or ReconnectPeer) starts from
// scratch.
func (n *PeerNetwork) giveUp(peerID PeerID, s *peerConnectionState) {
	s.mu.Lock()
	s.rejectAllPendingLocked(ErrGaveUp)
	old := s.releaseChannelLocked()
	s.mu.Unlock()

	n.metrics.setPendingQueueSize(peerID, 0)
	if old != nil {
		n.connSem.Release(1)
		n.metrics.channelReleased()
		_ = n.factory.CloseChannel(n.ctx, old, peerID)
	}
	n.metrics.giveUp(peerID)
	if n.opts.OnRemoteGiveUp != nil {
		n.opts.OnRemoteGiveUp(peerID)
	}
	n.rm.stopReconnection(peerID)
	n.rm.resetBackoff(peerID)
}

// spawnReader starts the dedicated reader task for a newly installed
// channel, tracked alongside reconnection loops so Stop can await it.
// broken is the signal channel installChannelLocked created for ch; it
// is closed on every reader exit path so a flush blocked on this exact
// channel's fate always wakes, even if ch has since been superseded.
func (n *PeerNetwork) spawnReader(peerID PeerID, ch Channel, broken chan struct{}) {
	n.loops.Go(func() error {
		n.readLoop(peerID, ch, broken)
		return nil
	})
}

// readLoop repeatedly reads frames from ch until end-of-stream,
// cancellation, or a classified error. See §4.1's inbound algorithm.
func (n *PeerNetwork) readLoop(peerID PeerID, ch Channel, broken chan struct{}) {
	logger := log.With(n.logger, "peer", peerID, "reader", true)
	s := n.getOrCreatePeer(peerID)

	defer func() {
		select {
		case <-broken:
		default:
			close(broken)
		}
	}()

	for {
		if n.ctx.Err() != nil {
			return
		}
		frame, err := ch.Read(n.ctx)
		if err != nil {
			n.handleReadError(peerID, s, ch, err, logger)
			return
		}

		msg, err := decodeWire(frame, n.opts.ChecksumKey)
		if err != nil {
			logError(logger, "event", "decode_error", "err", err)
			n.handleConnectionLoss(peerID, err)
			return
		}
		if msg.isHandshake() {
			// A stray handshake frame after install; ignore.
			continue
		}

		if msg.Seq > 0 {
			n.UpdateReceivedSeq(peerID, msg.Seq)
			if n.handler != nil {
				if herr := n.handler(n.ctx, peerID, msg.Method, msg.Params); herr != nil {
					logWarn(logger, "event", "handler_error", "err", herr)
				}
			}
			s.mu.Lock()
			highest := s.highestReceivedSeq
			s.mu.Unlock()
			if err := n.sendAck(n.ctx, peerID, s, ch, highest); err != nil {
				logDebug(logger, "event", "ack_write_failed", "err", err)
				n.handleConnectionLoss(peerID, err)
				return
			}
		}
		if msg.Ack != nil {
			n.HandleAck(peerID, *msg.Ack)
		}
	}
}

func (n *PeerNetwork) handleReadError(peerID PeerID, s *peerConnectionState, ch Channel, err error, logger log.Logger) {
	if errors.Is(err, io.EOF) {
		logDebug(logger, "event", "read_eof")
		n.releaseChannel(peerID, s, ch)
		return
	}
	if n.ctx.Err() != nil {
		return
	}
	if n.classifier != nil && n.classifier.IsIntentionalRemoteDisconnect(err) {
		logInfo(logger, "event", "intentional_remote_disconnect")
		n.releaseChannel(peerID, s, ch)
		return
	}
	logWarn(logger, "event", "read_error", "err", err)
	n.releaseChannel(peerID, s, ch)
	n.handleConnectionLoss(peerID, err)
}
