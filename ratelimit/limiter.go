// Package ratelimit implements a per-key sliding-window rate gate.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inferno-ml/inferno/log"
)

// ErrLimited is returned when a key has exhausted its window.
var ErrLimited = errors.New("rate limit exceeded")

const window = time.Minute

// Limiter caps accepted requests per key to a hard limit within any
// trailing 60 s. Bursts up to the full limit in one instant are
// allowed. State is per-process; deploying several gateway replicas
// means per-replica windows.
type Limiter struct {
	mu       sync.Mutex
	perMin   int
	requests map[string][]time.Time
	now      func() time.Time
}

// NewLimiter returns a Limiter allowing perMinute requests per key.
func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		perMin:   perMinute,
		requests: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Check debits one slot for key. It returns a wrapped ErrLimited when
// the window is full; otherwise the request timestamp is recorded.
func (l *Limiter) Check(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.requests[key][:0]
	for _, ts := range l.requests[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.requests[key] = kept

	if len(kept) >= l.perMin {
		log.Logger.Warn().Str("api_key", log.RedactKey(key)).Msg("rate limit exceeded")
		return fmt.Errorf("%w: maximum %d requests per minute", ErrLimited, l.perMin)
	}

	l.requests[key] = append(kept, now)
	return nil
}

// Reset drops the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, key)
}

// Limit reports the configured per-minute cap.
func (l *Limiter) Limit() int {
	return l.perMin
}
