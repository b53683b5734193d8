package p2p

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// peerConnectionState is the per-peer aggregate: the currently-bound
// channel (if any), sequence counters, the pending-message FIFO, the
// peer's location hints, and activity bookkeeping.
//
// All mutation goes through its mutex; it is never held across a
// suspension point (dial/write/read/delay) — callers copy out what they
// need, release, then suspend.
type peerConnectionState struct {
	mu deadlock.Mutex

	peerID PeerID

	channel Channel
	// channelBroken is closed by that channel's reader goroutine when it
	// exits for any reason, so a ReconnectionLoop flushing against this
	// channel can stop waiting on a dead connection instead of hanging on
	// a Completion that will never resolve.
	channelBroken chan struct{}

	// ackNotify is signaled (non-blocking) whenever ackMessagesLocked or
	// rejectAllPendingLocked removes items, so a flush loop waiting on a
	// specific head's resolution can recheck without consuming the
	// Completion value the original caller is awaiting.
	ackNotify chan struct{}

	locationHints map[LocationHint]struct{}

	// nextSendSeq counts up from 0; incremented before each new
	// transmission (not retransmission).
	nextSendSeq uint32
	// highestReceivedSeq is non-decreasing except across
	// clearSequenceNumbers.
	highestReceivedSeq uint32

	pending *messageQueue
	// startSeq is the sequence number of pending's head: for position k,
	// the transmitted seq is startSeq+k, so startSeq+pending.length()-1 ==
	// nextSendSeq whenever pending is non-empty. When pending is empty its
	// value is not used: Send sets it to the seq it assigns to the message
	// it enqueues onto the empty queue.
	startSeq uint32

	intentionallyClosed bool

	lastActivity time.Time
}

func newPeerConnectionState(id PeerID, maxQueue int) *peerConnectionState {
	return &peerConnectionState{
		peerID:        id,
		locationHints: make(map[LocationHint]struct{}),
		pending:       newMessageQueue(maxQueue),
		lastActivity:  clockNow(),
		ackNotify:     make(chan struct{}, 1),
	}
}

// mergeHints union-merges hints into the peer's hint set.
func (s *peerConnectionState) mergeHints(hints []LocationHint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hints {
		s.locationHints[h] = struct{}{}
	}
}

func (s *peerConnectionState) hintSlice() []LocationHint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LocationHint, 0, len(s.locationHints))
	for h := range s.locationHints {
		out = append(out, h)
	}
	return out
}

func (s *peerConnectionState) touch() {
	s.lastActivity = clockNow()
}

// nextSeqLocked assigns the next sequence number for a fresh (not
// retransmitted) send. Caller must hold s.mu.
func (s *peerConnectionState) nextSeqLocked() uint32 {
	s.nextSendSeq++
	return s.nextSendSeq
}

// seqAtLocked is the invariant-1 witness for every transmitted seq: seq
// at queue position k is startSeq+k. Caller must hold s.mu.
func (s *peerConnectionState) seqAtLocked(index int) uint32 {
	return s.startSeq + uint32(index)
}

// ackMessagesLocked resolves and drains every pending message whose
// implied sequence is <= ackSeq, advancing startSeq. Out-of-range or
// stale ACKs (ackSeq < startSeq) are silently ignored — the loop simply
// doesn't run. Caller must hold s.mu.
func (s *peerConnectionState) ackMessagesLocked(ackSeq uint32) {
	resolved := 0
	for s.pending.length() > 0 && s.startSeq <= ackSeq {
		head := s.pending.dequeue()
		head.completion.resolve()
		s.startSeq++
		resolved++
	}
	if resolved > 0 {
		s.notifyLocked()
	}
}

// notifyLocked performs a non-blocking send on ackNotify so at most one
// outstanding notification is ever buffered. Caller must hold s.mu.
func (s *peerConnectionState) notifyLocked() {
	select {
	case s.ackNotify <- struct{}{}:
	default:
	}
}

// rejectAllPendingLocked rejects every currently pending completion with
// err, then clears the queue and realigns startSeq to nextSendSeq so the
// invariant (startSeq==nextSendSeq when empty) holds for the next Send.
// Caller must hold s.mu.
func (s *peerConnectionState) rejectAllPendingLocked(err error) {
	for {
		head := s.pending.dequeue()
		if head == nil {
			break
		}
		head.completion.fail(err)
	}
	s.startSeq = s.nextSendSeq
	s.notifyLocked()
}

// clearSequenceNumbersLocked resets counters to 0. Safe only once every
// pending message has been resolved or rejected (invariant 2). Called on
// intentional close; stale cleanup drops the whole state instead, which
// has the same effect for a peer seen again later. Caller must hold s.mu.
func (s *peerConnectionState) clearSequenceNumbersLocked() {
	s.nextSendSeq = 0
	s.highestReceivedSeq = 0
	s.startSeq = 0
}

// installChannelLocked releases any existing channel (returned to the
// caller for graceful close outside the lock) and installs ch. Caller
// must hold s.mu.
func (s *peerConnectionState) installChannelLocked(ch Channel) (old Channel) {
	old = s.channel
	s.channel = ch
	s.channelBroken = make(chan struct{})
	return old
}

func (s *peerConnectionState) releaseChannelLocked() (old Channel) {
	old = s.channel
	s.channel = nil
	return old
}

// currentLocked returns the installed channel and its broken signal
// together, so a waiter never races a channel replacement between two
// separate locked reads. Caller must hold s.mu.
func (s *peerConnectionState) currentLocked() (Channel, chan struct{}) {
	return s.channel, s.channelBroken
}

// isStale reports whether the peer has no channel, is not reconnecting,
// and has been idle longer than timeout. rm is consulted for the
// reconnecting flag so ownership of that bit stays in ReconnectionManager.
func (s *peerConnectionState) isStale(rm *reconnectionManager, now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		return false
	}
	if rm.isReconnecting(s.peerID) {
		return false
	}
	return now.Sub(s.lastActivity) > timeout
}
