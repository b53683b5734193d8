package p2p

import "context"

// Completion is a single-producer-single-consumer one-shot notification
// for a Send: produced once, resolved to success or failed with one of
// the caller-visible error kinds, awaitable exactly once.
type Completion struct {
	done chan error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan error, 1)}
}

// resolve succeeds the completion. Safe to call at most once; later
// calls are no-ops (the channel has capacity 1 and is never read twice).
func (c *Completion) resolve() {
	select {
	case c.done <- nil:
	default:
	}
}

// fail rejects the completion with one of the caller-visible kinds.
func (c *Completion) fail(err error) {
	select {
	case c.done <- err:
	default:
	}
}

// Wait blocks until the completion resolves or fails, or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
