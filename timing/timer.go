// Package timing measures named phases of a task pipeline.
package timing

import (
	"math"
	"time"

	"github.com/inferno-ml/inferno/log"
)

// Timer records wall-clock durations for named phases. It is not safe
// for concurrent use; each job owns its own Timer.
type Timer struct {
	timings map[string]time.Duration
	started map[string]time.Time
	now     func() time.Time
}

// NewTimer returns an empty Timer.
func NewTimer() *Timer {
	return &Timer{
		timings: make(map[string]time.Duration),
		started: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Start begins measuring a phase. Restarting a running phase resets it.
func (t *Timer) Start(name string) {
	t.started[name] = t.now()
}

// Stop ends a phase and returns the elapsed milliseconds. Stopping a
// phase that was never started returns 0.
func (t *Timer) Stop(name string) float64 {
	start, ok := t.started[name]
	if !ok {
		log.Logger.Warn().Str("phase", name).Msg("timer stopped without start")
		return 0
	}
	elapsed := t.now().Sub(start)
	t.timings[name] = elapsed
	delete(t.started, name)
	return toMillis(elapsed)
}

// StopAll stops every still-running phase. Deferred by callers so
// timings are captured on every exit path.
func (t *Timer) StopAll() {
	for name := range t.started {
		t.Stop(name)
	}
}

// Get returns the recorded milliseconds for a phase, or false if the
// phase was never stopped.
func (t *Timer) Get(name string) (float64, bool) {
	d, ok := t.timings[name]
	if !ok {
		return 0, false
	}
	return toMillis(d), true
}

// Snapshot returns all recorded phases in milliseconds, rounded to two
// decimals. This is the map that ends up in the result envelope.
func (t *Timer) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(t.timings))
	for name, d := range t.timings {
		out[name] = toMillis(d)
	}
	return out
}

// Seconds returns a recorded phase in seconds, for histogram
// observation. Unrecorded phases read as 0.
func (t *Timer) Seconds(name string) float64 {
	return t.timings[name].Seconds()
}

// Reset clears all recorded and in-flight phases.
func (t *Timer) Reset() {
	t.timings = make(map[string]time.Duration)
	t.started = make(map[string]time.Time)
}

func toMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
