package p2p

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageQueueFIFOOrder(t *testing.T) {
	q := newMessageQueue(3)
	a := &pendingMessage{method: "a"}
	b := &pendingMessage{method: "b"}
	c := &pendingMessage{method: "c"}

	require.True(t, q.enqueue(a))
	require.True(t, q.enqueue(b))
	require.True(t, q.enqueue(c))
	require.Equal(t, 3, q.length())

	require.Equal(t, a, q.peekFirst())
	require.Equal(t, a, q.dequeue())
	require.Equal(t, b, q.peekFirst())
	require.Equal(t, 2, q.length())
}

func TestMessageQueueRejectsAtCapacity(t *testing.T) {
	q := newMessageQueue(1)
	require.True(t, q.enqueue(&pendingMessage{method: "a"}))
	require.False(t, q.enqueue(&pendingMessage{method: "b"}))
	require.Equal(t, 1, q.length())
}

func TestMessageQueueDequeueOnEmpty(t *testing.T) {
	q := newMessageQueue(1)
	require.Nil(t, q.dequeue())
	require.Nil(t, q.peekFirst())
}

func TestMessageQueueClear(t *testing.T) {
	q := newMessageQueue(2)
	q.enqueue(&pendingMessage{method: "a"})
	q.enqueue(&pendingMessage{method: "b"})
	q.clear()
	require.Equal(t, 0, q.length())
	require.Nil(t, q.dequeue())
}
