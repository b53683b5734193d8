package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRMOptions() Options {
	o := DefaultOptions()
	o.BackoffInitial = 5 * time.Millisecond
	o.BackoffMax = 20 * time.Millisecond
	o.BackoffJitter = 0
	return o
}

func TestShouldRetryUnboundedWhenMaxIsZero(t *testing.T) {
	rm := newReconnectionManager(testRMOptions())
	for i := 0; i < 100; i++ {
		rm.incrementAttempt("p1")
	}
	require.True(t, rm.shouldRetry("p1", 0))
}

func TestShouldRetryBoundaryAllowsLastAttempt(t *testing.T) {
	rm := newReconnectionManager(testRMOptions())
	rm.incrementAttempt("p1") // attempt=1
	rm.incrementAttempt("p1") // attempt=2
	require.True(t, rm.shouldRetry("p1", 2), "attempt == maxRetryAttempts must still be allowed to run")
	rm.incrementAttempt("p1") // attempt=3
	require.False(t, rm.shouldRetry("p1", 2))
}

func TestIsReconnectingTracksStartStop(t *testing.T) {
	rm := newReconnectionManager(testRMOptions())
	require.False(t, rm.isReconnecting("p1"))
	rm.startReconnection("p1")
	require.True(t, rm.isReconnecting("p1"))
	rm.stopReconnection("p1")
	require.False(t, rm.isReconnecting("p1"))
}

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	rm := newReconnectionManager(testRMOptions())
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := rm.calculateBackoff("p1")
		require.GreaterOrEqual(t, d, last)
		require.LessOrEqual(t, d, 20*time.Millisecond)
		last = d
	}
}

func TestResetBackoffRestartsGrowthFromInitial(t *testing.T) {
	rm := newReconnectionManager(testRMOptions())
	for i := 0; i < 10; i++ {
		rm.calculateBackoff("p1")
	}
	rm.incrementAttempt("p1")
	rm.resetBackoff("p1")
	d := rm.calculateBackoff("p1")
	require.LessOrEqual(t, d, 10*time.Millisecond)
}

func TestClearPeerDropsState(t *testing.T) {
	rm := newReconnectionManager(testRMOptions())
	rm.startReconnection("p1")
	rm.clearPeer("p1")
	require.False(t, rm.isReconnecting("p1"))
}
