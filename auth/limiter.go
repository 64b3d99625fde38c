package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyLimiter holds one token bucket per API key. Buckets are created lazily
// on first observation of a key, sized by that key's per-minute cap:
// capacity rpm, continuous refill at rpm/60 tokens per second.
type KeyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewKeyLimiter() *KeyLimiter {
	return &KeyLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow consumes one token from the key's bucket at time now.
func (l *KeyLimiter) Allow(key string, rpm int, now time.Time) bool {
	if rpm <= 0 {
		return false
	}

	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		l.limiters[key] = limiter
	} else if limiter.Burst() != rpm {
		// the key's cap changed; rebuild the bucket
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Forget drops the key's bucket, so a recreated key starts full.
func (l *KeyLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
