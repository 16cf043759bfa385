package session

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the context cause recorded when a CancelToken fires.
var ErrCancelled = errors.New("session: cancelled")

// CancelToken is a latched one-shot cancellation signal. Firing it before
// anyone waits is still observed by later waiters.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an unfired token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel fires the token. It returns true only for the call that fired it.
func (t *CancelToken) Cancel() bool {
	fired := false
	t.once.Do(func() {
		close(t.done)
		fired = true
	})
	return fired
}

// Done is closed once the token fires.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the token has fired.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Context derives a context from parent that is cancelled with cause
// ErrCancelled when the token fires. The returned cancel func must be
// called to release the watcher goroutine.
func (t *CancelToken) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if t.Cancelled() {
		cancel(ErrCancelled)
		return ctx, func() {}
	}

	stop := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		select {
		case <-t.done:
			cancel(ErrCancelled)
		case <-ctx.Done():
		case <-stop:
		}
	}()

	return ctx, func() {
		stopOnce.Do(func() { close(stop) })
		cancel(context.Canceled)
	}
}
