package p2p

import "time"

// startStaleCleanup launches the periodic sweep (§4.5) that drops
// per-peer state for peers with no channel, no active reconnection, and
// no activity within StalePeerTimeout. It runs for the PeerNetwork's
// lifetime and exits on Stop.
func (n *PeerNetwork) startStaleCleanup() {
	n.loops.Go(func() error {
		ticker := time.NewTicker(n.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.sweepStalePeers()
			case <-n.cleanupStop:
				return nil
			case <-n.ctx.Done():
				return nil
			}
		}
	})
}

// sweepStalePeers removes every peer table entry whose state reports
// isStale. A peer rediscovered afterward (Send, inbound connection,
// ReconnectPeer) simply gets a fresh peerConnectionState.
func (n *PeerNetwork) sweepStalePeers() {
	now := clockNow()

	n.tableMu.RLock()
	candidates := make([]PeerID, 0, len(n.peers))
	for id, s := range n.peers {
		if s.isStale(n.rm, now, n.opts.StalePeerTimeout) {
			candidates = append(candidates, id)
		}
	}
	n.tableMu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	n.tableMu.Lock()
	for _, id := range candidates {
		s, ok := n.peers[id]
		if !ok {
			continue
		}
		if !s.isStale(n.rm, now, n.opts.StalePeerTimeout) {
			continue
		}
		delete(n.peers, id)
	}
	n.tableMu.Unlock()

	for _, id := range candidates {
		n.rm.clearPeer(id)
		logDebug(n.logger, "event", "stale_peer_reaped", "peer", id)
	}
}
