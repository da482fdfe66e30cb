package signal

import (
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per session. A nil *RateLimiter allows
// everything.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[core.SessionID]*bucket
	limit   rate.Limit
	burst   int
}

type bucket struct {
	lim      *rate.Limiter
	notified bool
}

// NewRateLimiter allows perSecond envelopes per session with the given
// burst. perSecond <= 0 disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(perSecond)
	}
	return &RateLimiter{
		buckets: make(map[core.SessionID]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   max(burst, 1),
	}
}

func (rl *RateLimiter) get(sid core.SessionID) *bucket {
	b, ok := rl.buckets[sid]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[sid] = b
	}
	return b
}

func (rl *RateLimiter) Allow(sid core.SessionID) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b := rl.get(sid)
	if b.lim.Allow() {
		b.notified = false
		return true
	}
	return false
}

// ShouldNotify reports true once per run of rejected envelopes.
func (rl *RateLimiter) ShouldNotify(sid core.SessionID) bool {
	if rl == nil {
		return false
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b := rl.get(sid)
	if b.notified {
		return false
	}
	b.notified = true
	return true
}

func (rl *RateLimiter) Forget(sid core.SessionID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.buckets, sid)
	rl.mu.Unlock()
}
