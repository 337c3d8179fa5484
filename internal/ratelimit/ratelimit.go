// Package ratelimit provides a keyed fixed-window counter for
// credential-guessing-prone operations. General API traffic uses the
// sliding-window middleware at the router instead; this interface exists so
// the login window can move to a shared backend when the service scales out.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter records one attempt for key and reports whether it fits the
// window. retryAfter is the time until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

type entry struct {
	count       int
	windowStart time.Time
}

// Local is an in-process fixed-window limiter.
type Local struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	entries   map[string]*entry
	lastPrune time.Time
}

func NewLocal(limit int, window time.Duration) *Local {
	return &Local{
		limit:   limit,
		window:  window,
		entries: map[string]*entry{},
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > l.window {
		for k, e := range l.entries {
			if now.Sub(e.windowStart) > l.window {
				delete(l.entries, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= l.window {
		l.entries[key] = &entry{count: 1, windowStart: now}
		return true, 0, nil
	}

	e.count++
	if e.count > l.limit {
		return false, e.windowStart.Add(l.window).Sub(now), nil
	}
	return true, 0, nil
}
