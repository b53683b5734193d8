package p2p

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sasha-s/go-deadlock"
)

// reconnectPeerState is ReconnectionManager's pure bookkeeping for one
// peer: an attempt counter, the active flag, and the backoff generator
// backing calculateBackoff.
type reconnectPeerState struct {
	attempt  int
	isActive bool
	backoff  *backoff.ExponentialBackOff
}

// reconnectionManager tracks per-peer attempt counts, backoff state, and
// the single-reconnection-loop witness flag. It performs no I/O.
type reconnectionManager struct {
	mu    deadlock.Mutex
	peers map[PeerID]*reconnectPeerState

	initial time.Duration
	max     time.Duration
	jitter  float64
}

func newReconnectionManager(opts Options) *reconnectionManager {
	return &reconnectionManager{
		peers:   make(map[PeerID]*reconnectPeerState),
		initial: opts.BackoffInitial,
		max:     opts.BackoffMax,
		jitter:  opts.BackoffJitter,
	}
}

func (m *reconnectionManager) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initial
	b.MaxInterval = m.max
	b.RandomizationFactor = m.jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // unbounded; the attempt cap is enforced separately
	b.Reset()
	return b
}

func (m *reconnectionManager) stateLocked(peerID PeerID) *reconnectPeerState {
	s, ok := m.peers[peerID]
	if !ok {
		s = &reconnectPeerState{backoff: m.newBackoff()}
		m.peers[peerID] = s
	}
	return s
}

// startReconnection sets isActive; idempotent.
func (m *reconnectionManager) startReconnection(peerID PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateLocked(peerID).isActive = true
}

// stopReconnection clears isActive; idempotent.
func (m *reconnectionManager) stopReconnection(peerID PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.peers[peerID]; ok {
		s.isActive = false
	}
}

// isReconnecting is the authoritative witness for "at most one
// ReconnectionLoop per peer."
func (m *reconnectionManager) isReconnecting(peerID PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.peers[peerID]
	return ok && s.isActive
}

// incrementAttempt bumps and returns the new attempt count.
func (m *reconnectionManager) incrementAttempt(peerID PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateLocked(peerID)
	s.attempt++
	return s.attempt
}

// shouldRetry reports whether another attempt is permitted.
// maxAttempts==0 means unbounded.
func (m *reconnectionManager) shouldRetry(peerID PeerID, maxAttempts int) bool {
	if maxAttempts == 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(peerID).attempt <= maxAttempts
}

// calculateBackoff returns the next exponential-with-jitter delay,
// sourced from cenkalti/backoff so the growth curve and cap come from a
// maintained implementation rather than a hand-rolled formula.
func (m *reconnectionManager) calculateBackoff(peerID PeerID) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateLocked(peerID)
	d := s.backoff.NextBackOff()
	if d == backoff.Stop {
		d = m.max
	}
	return d
}

// resetBackoff zeroes the attempt counter and the backoff generator for
// one peer, called on successful transmission and on flush success.
func (m *reconnectionManager) resetBackoff(peerID PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stateLocked(peerID)
	s.attempt = 0
	s.backoff.Reset()
}

// resetAllBackoffs resets every peer's attempt counter and backoff
// generator; called by the wake detector so the next reconnection cycle
// doesn't inherit stale, inflated delays.
func (m *reconnectionManager) resetAllBackoffs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.peers {
		s.attempt = 0
		s.backoff.Reset()
	}
}

func (m *reconnectionManager) clearPeer(peerID PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peerID)
}

func (m *reconnectionManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = make(map[PeerID]*reconnectPeerState)
}
