package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeLimiter(perMinute int) (*Limiter, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(perMinute)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestBurstUpToLimit(t *testing.T) {
	l, _ := newFakeLimiter(3)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Check("key-a"))
	}

	err := l.Check("key-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLimited))
}

func TestWindowSlides(t *testing.T) {
	l, now := newFakeLimiter(2)

	require.NoError(t, l.Check("key-a"))
	*now = now.Add(30 * time.Second)
	require.NoError(t, l.Check("key-a"))
	require.Error(t, l.Check("key-a"))

	// The first request ages out; one slot opens.
	*now = now.Add(31 * time.Second)
	require.NoError(t, l.Check("key-a"))
	require.Error(t, l.Check("key-a"))
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newFakeLimiter(1)

	require.NoError(t, l.Check("key-a"))
	require.Error(t, l.Check("key-a"))
	require.NoError(t, l.Check("key-b"))
}

func TestReset(t *testing.T) {
	l, _ := newFakeLimiter(1)

	require.NoError(t, l.Check("key-a"))
	require.Error(t, l.Check("key-a"))

	l.Reset("key-a")
	require.NoError(t, l.Check("key-a"))
}

func TestLimit(t *testing.T) {
	l, _ := newFakeLimiter(60)
	assert.Equal(t, 60, l.Limit())
}
