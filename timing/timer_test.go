package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeTimer() (*Timer, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tm := NewTimer()
	tm.now = func() time.Time { return now }
	return tm, &now
}

func TestStopReturnsRoundedMillis(t *testing.T) {
	tm, now := newFakeTimer()

	tm.Start("inference")
	*now = now.Add(1234567 * time.Microsecond)

	assert.Equal(t, 1234.57, tm.Stop("inference"))

	got, ok := tm.Get("inference")
	require.True(t, ok)
	assert.Equal(t, 1234.57, got)
}

func TestStopWithoutStart(t *testing.T) {
	tm, _ := newFakeTimer()

	assert.Equal(t, 0.0, tm.Stop("never_started"))
	_, ok := tm.Get("never_started")
	assert.False(t, ok)
}

func TestRestartResetsPhase(t *testing.T) {
	tm, now := newFakeTimer()

	tm.Start("storage")
	*now = now.Add(500 * time.Millisecond)
	tm.Start("storage")
	*now = now.Add(100 * time.Millisecond)

	assert.Equal(t, 100.0, tm.Stop("storage"))
}

func TestStopAllCapturesRunningPhases(t *testing.T) {
	tm, now := newFakeTimer()

	tm.Start("total")
	tm.Start("inference")
	*now = now.Add(2 * time.Second)
	tm.StopAll()

	snap := tm.Snapshot()
	assert.Equal(t, 2000.0, snap["total"])
	assert.Equal(t, 2000.0, snap["inference"])
}

func TestSnapshotRounding(t *testing.T) {
	tm, now := newFakeTimer()

	tm.Start("model_loading")
	*now = now.Add(1*time.Millisecond + 4*time.Microsecond) // 1.004 ms
	tm.Stop("model_loading")

	assert.Equal(t, 1.0, tm.Snapshot()["model_loading"])
}

func TestSeconds(t *testing.T) {
	tm, now := newFakeTimer()

	tm.Start("total")
	*now = now.Add(1500 * time.Millisecond)
	tm.Stop("total")

	assert.Equal(t, 1.5, tm.Seconds("total"))
	assert.Equal(t, 0.0, tm.Seconds("missing"))
}

func TestReset(t *testing.T) {
	tm, now := newFakeTimer()

	tm.Start("inference")
	*now = now.Add(time.Second)
	tm.Stop("inference")
	tm.Start("storage")
	tm.Reset()

	assert.Empty(t, tm.Snapshot())
	assert.Equal(t, 0.0, tm.Stop("storage"))
}
