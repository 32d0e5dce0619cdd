package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client ip. Idle buckets are swept
// lazily, at most once per ttl.
type rateLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	visitors  map[string]*visitor // key: ip
	now       func() time.Time
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		perSecond: rate.Limit(rps),
		burst:     burst,
		ttl:       10 * time.Minute,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

func (rl *rateLimiter) Allow(key string) bool {
	if rl.perSecond <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.ttl {
		rl.sweep(now)
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.perSecond, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) sweep(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.ttl {
			delete(rl.visitors, ip)
		}
	}
	rl.lastSweep = now
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}
