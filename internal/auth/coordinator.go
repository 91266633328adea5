// Package auth holds the bearer token used by the HTTP transport and coalesces
// concurrent token refreshes after a 401 into a single refresh call.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoRefresher is returned by Refresh when no RefreshFunc is configured.
var ErrNoRefresher = errors.New("token refresh not configured")

// RefreshFunc obtains a new bearer token.
type RefreshFunc func(ctx context.Context) (string, error)

type refreshResult struct {
	token string
	err   error
}

// Coordinator performs single-flight token refreshes. The first caller that
// sees a 401 runs the refresh; callers arriving while it is pending wait for
// its result instead of starting their own.
type Coordinator struct {
	store   *TokenStore
	refresh RefreshFunc

	mu      sync.Mutex
	pending bool
	waiters []chan refreshResult
	count   int
}

// NewCoordinator returns a Coordinator that writes refreshed tokens to store.
func NewCoordinator(store *TokenStore, refresh RefreshFunc) *Coordinator {
	if store == nil {
		store = NewTokenStore("", "")
	}
	return &Coordinator{store: store, refresh: refresh}
}

// Token returns the current bearer token.
func (c *Coordinator) Token() string {
	return c.store.Token()
}

// Refresh returns a fresh token, running the RefreshFunc at most once for all
// callers that arrive while a refresh is pending. A waiter whose ctx ends
// before the refresh completes returns ctx.Err().
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refresh == nil {
		c.mu.Unlock()
		return "", ErrNoRefresher
	}
	if c.pending {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.pending = true
	c.count++
	c.mu.Unlock()

	token, err := c.refresh(ctx)
	if err == nil {
		err = c.store.Set(token)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.pending = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Pending reports whether a refresh is in progress.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Refreshes returns how many refresh calls have been started.
func (c *Coordinator) Refreshes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Reset clears the pending flag and counters. Queued waiters are released with
// ErrNoRefresher. Intended for tests.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.pending = false
	c.count = 0
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{err: ErrNoRefresher}
	}
}
