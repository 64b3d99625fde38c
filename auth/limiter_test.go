package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLimiterIsolatesKeys(t *testing.T) {
	l := NewKeyLimiter()
	now := time.Now()

	assert.True(t, l.Allow("key-a", 1, now))
	assert.False(t, l.Allow("key-a", 1, now))

	// a different key has its own bucket
	assert.True(t, l.Allow("key-b", 1, now))
}

func TestKeyLimiterRefill(t *testing.T) {
	l := NewKeyLimiter()
	now := time.Now()

	for i := 0; i < 2; i++ {
		assert.True(t, l.Allow("key-a", 2, now))
	}
	assert.False(t, l.Allow("key-a", 2, now))

	// rpm=2 refills one token every 30 seconds
	assert.True(t, l.Allow("key-a", 2, now.Add(31*time.Second)))
	assert.False(t, l.Allow("key-a", 2, now.Add(31*time.Second)))
}

func TestKeyLimiterRebuildsOnCapChange(t *testing.T) {
	l := NewKeyLimiter()
	now := time.Now()

	assert.True(t, l.Allow("key-a", 1, now))
	assert.False(t, l.Allow("key-a", 1, now))

	// raising the cap rebuilds the bucket full
	assert.True(t, l.Allow("key-a", 5, now))
}

func TestKeyLimiterZeroCapRefuses(t *testing.T) {
	l := NewKeyLimiter()
	assert.False(t, l.Allow("key-a", 0, time.Now()))
}

func TestKeyLimiterForget(t *testing.T) {
	l := NewKeyLimiter()
	now := time.Now()

	assert.True(t, l.Allow("key-a", 1, now))
	assert.False(t, l.Allow("key-a", 1, now))

	l.Forget("key-a")
	assert.True(t, l.Allow("key-a", 1, now))
}
