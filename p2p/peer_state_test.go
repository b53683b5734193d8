package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubChannel struct{}

func (stubChannel) Read(ctx context.Context) ([]byte, error) { return nil, nil }
func (stubChannel) Write(ctx context.Context, b []byte) error { return nil }
func (stubChannel) Close() error                              { return nil }

func TestNextSeqLockedIsMonotone(t *testing.T) {
	s := newPeerConnectionState("p1", 10)
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, uint32(1), s.nextSeqLocked())
	require.Equal(t, uint32(2), s.nextSeqLocked())
	require.Equal(t, uint32(3), s.nextSeqLocked())
}

func TestSeqAtLockedMatchesStartSeqInvariant(t *testing.T) {
	s := newPeerConnectionState("p1", 10)
	s.mu.Lock()
	seq1 := s.nextSeqLocked()
	s.startSeq = seq1
	s.pending.enqueue(&pendingMessage{completion: newCompletion()})
	seq2 := s.nextSeqLocked()
	s.pending.enqueue(&pendingMessage{completion: newCompletion()})

	require.Equal(t, seq1, s.seqAtLocked(0))
	require.Equal(t, seq2, s.seqAtLocked(1))
	require.Equal(t, s.startSeq+uint32(s.pending.length())-1, s.nextSendSeq)
	s.mu.Unlock()
}

func TestAckMessagesLockedResolvesUpToInclusive(t *testing.T) {
	s := newPeerConnectionState("p1", 10)
	s.mu.Lock()
	var completions []*Completion
	for i := 0; i < 3; i++ {
		seq := s.nextSeqLocked()
		if i == 0 {
			s.startSeq = seq
		}
		c := newCompletion()
		completions = append(completions, c)
		s.pending.enqueue(&pendingMessage{completion: c})
	}
	s.ackMessagesLocked(s.startSeq + 1) // ack through the second message
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, completions[0].Wait(ctx))
	require.NoError(t, completions[1].Wait(ctx))
	require.Equal(t, 1, s.pending.length())
}

func TestAckMessagesLockedIgnoresStaleAck(t *testing.T) {
	s := newPeerConnectionState("p1", 10)
	s.mu.Lock()
	seq := s.nextSeqLocked()
	s.startSeq = seq
	s.pending.enqueue(&pendingMessage{completion: newCompletion()})
	s.ackMessagesLocked(seq - 1) // stale: below startSeq, loop body never runs
	s.mu.Unlock()

	require.Equal(t, 1, s.pending.length())
}

func TestRejectAllPendingLockedRealignsStartSeq(t *testing.T) {
	s := newPeerConnectionState("p1", 10)
	s.mu.Lock()
	for i := 0; i < 3; i++ {
		seq := s.nextSeqLocked()
		if i == 0 {
			s.startSeq = seq
		}
		s.pending.enqueue(&pendingMessage{completion: newCompletion()})
	}
	s.rejectAllPendingLocked(ErrGaveUp)
	s.mu.Unlock()

	require.Equal(t, 0, s.pending.length())
	require.Equal(t, s.nextSendSeq, s.startSeq)
}

func TestInstallChannelLockedReturnsPriorChannel(t *testing.T) {
	s := newPeerConnectionState("p1", 10)
	s.mu.Lock()
	old := s.installChannelLocked(stubChannel{})
	require.Nil(t, old)
	old = s.installChannelLocked(stubChannel{})
	s.mu.Unlock()
	require.NotNil(t, old)
}

func TestIsStaleRequiresNoChannelAndIdleTimeout(t *testing.T) {
	rm := newReconnectionManager(DefaultOptions())
	s := newPeerConnectionState("p1", 10)

	frozen := clockNow()
	orig := clockNow
	clockNow = func() time.Time { return frozen }
	defer func() { clockNow = orig }()
	s.touch()

	require.False(t, s.isStale(rm, frozen, time.Minute))
	require.True(t, s.isStale(rm, frozen.Add(2*time.Minute), time.Minute))

	s.mu.Lock()
	s.installChannelLocked(stubChannel{})
	s.mu.Unlock()
	require.False(t, s.isStale(rm, frozen.Add(2*time.Minute), time.Minute))
}

func TestIsStaleFalseWhileReconnecting(t *testing.T) {
	rm := newReconnectionManager(DefaultOptions())
	s := newPeerConnectionState("p1", 10)
	rm.startReconnection("p1")

	frozen := clockNow()
	orig := clockNow
	clockNow = func() time.Time { return frozen }
	defer func() { clockNow = orig }()
	s.touch()

	require.False(t, s.isStale(rm, frozen.Add(time.Hour), time.Minute))
}
