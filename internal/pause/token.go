// Package pause provides the cooperative suspend/resume primitive shared by
// every checkpoint of a single backup execution.
package pause

import (
	"context"
	"sync"

	apperrors "dbvault/internal/errors"
)

// Token is a pause flag that checkpoints can block on.
// The zero value is not usable; call NewToken.
type Token struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

// NewToken returns an unpaused token
func NewToken() *Token {
	return &Token{resumed: closedChan()}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Pause sets the flag; it is a no-op when already paused
func (t *Token) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return
	}
	t.paused = true
	t.resumed = make(chan struct{})
}

// Resume clears the flag and wakes every waiter
func (t *Token) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return
	}
	t.paused = false
	close(t.resumed)
}

// IsPaused reports the current flag
func (t *Token) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// WaitWhilePaused blocks until the token is resumed or ctx ends.
// A nil token never blocks.
func (t *Token) WaitWhilePaused(ctx context.Context) error {
	if t == nil {
		return ctxErr(ctx)
	}

	for {
		t.mu.Lock()
		paused, resumed := t.paused, t.resumed
		t.mu.Unlock()

		if err := ctxErr(ctx); err != nil {
			return err
		}
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return apperrors.NewCanceledError(ctx.Err())
		case <-resumed:
			// re-check: the token may have been paused again before we woke
		}
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewCanceledError(err)
	}
	return nil
}
