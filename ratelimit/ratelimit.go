package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config controls a Limiter's window and request budget.
type Config struct {
	MaxRequests int
	WindowMs    int64
	// PurgeEvery triggers a sweep of empty-window keys every N touches
	// across all keys. Defaults to 1000 if unset.
	PurgeEvery int
}

// Limiter is a sliding-window rate limiter keyed by an arbitrary string.
// For a given key it stores only the timestamps that fall within the
// current window; older entries are pruned on every touch of that key.
type Limiter struct {
	mu          sync.Mutex
	maxRequests int
	windowMs    int64
	purgeEvery  int
	touches     int
	byKey       map[string][]int64
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	purge := cfg.PurgeEvery
	if purge <= 0 {
		purge = 1000
	}
	return &Limiter{
		maxRequests: cfg.MaxRequests,
		windowMs:    cfg.WindowMs,
		purgeEvery:  purge,
		byKey:       make(map[string][]int64),
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// CheckLimit prunes key's timestamps older than now-windowMs, then admits
// the call if fewer than maxRequests remain; on admission it appends now to
// the key's timestamp slice.
func (l *Limiter) CheckLimit(key string) bool {
	return l.checkLimitAt(key, nowMs())
}

func (l *Limiter) checkLimitAt(key string, now int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.prune(key, now)
	if len(ts) >= l.maxRequests {
		l.byKey[key] = ts
		l.maybePurgeLocked()
		return false
	}
	l.byKey[key] = append(ts, now)
	l.maybePurgeLocked()
	return true
}

// prune returns key's timestamps with everything older than now-windowMs
// removed; it does not write the result back (callers that keep the key
// alive must do so themselves).
func (l *Limiter) prune(key string, now int64) []int64 {
	cutoff := now - l.windowMs
	ts := l.byKey[key]
	kept := ts[:0:0]
	for _, t := range ts {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	return kept
}

// maybePurgeLocked drops keys whose window has gone empty, every
// purgeEvery touches. Must be called with l.mu held.
func (l *Limiter) maybePurgeLocked() {
	l.touches++
	if l.touches < l.purgeEvery {
		return
	}
	l.touches = 0
	now := nowMs()
	cutoff := now - l.windowMs
	for k, ts := range l.byKey {
		if len(ts) == 0 {
			delete(l.byKey, k)
			continue
		}
		if ts[len(ts)-1] <= cutoff {
			delete(l.byKey, k)
		}
	}
}

// GetCurrentCount returns the number of timestamps presently within the
// window for key, after pruning.
func (l *Limiter) GetCurrentCount(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.prune(key, nowMs())
	l.byKey[key] = ts
	return len(ts)
}

// GetTimeUntilSlot returns how long, in milliseconds, until key's oldest
// timestamp falls out of the window and frees a slot. Zero if a slot is
// already available.
func (l *Limiter) GetTimeUntilSlot(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := nowMs()
	ts := l.prune(key, now)
	l.byKey[key] = ts
	if len(ts) < l.maxRequests || len(ts) == 0 {
		return 0
	}
	wait := ts[0] + l.windowMs - now
	if wait < 0 {
		return 0
	}
	return wait
}

// WaitForSlot blocks, retrying CheckLimit with exponential backoff
// (100, 200, 400, 800ms, capped at 1000ms), until a slot is available or
// ctx is canceled.
func (l *Limiter) WaitForSlot(ctx context.Context, key string) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = time.Second
	for {
		if l.CheckLimit(key) {
			return nil
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Clear drops all state for key.
func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, key)
}

// ClearAll drops state for every key.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey = make(map[string][]int64)
}
