package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompletionResolveThenWait(t *testing.T) {
	c := newCompletion()
	c.resolve()
	require.NoError(t, c.Wait(context.Background()))
}

func TestCompletionFailThenWait(t *testing.T) {
	c := newCompletion()
	c.fail(ErrGaveUp)
	require.ErrorIs(t, c.Wait(context.Background()), ErrGaveUp)
}

func TestCompletionResolveIsIdempotent(t *testing.T) {
	c := newCompletion()
	c.resolve()
	c.fail(ErrStopped) // second writer: no-op, channel already has a buffered value
	require.NoError(t, c.Wait(context.Background()))
}

func TestCompletionWaitRespectsContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
