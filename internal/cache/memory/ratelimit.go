package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// idleLimiterTTL is how long an unused per-key limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type limiterKey struct {
	key    string
	limit  int
	window time.Duration
}

type trackedLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token-bucket domain.RateLimiter: each key gets a bucket
// of limit tokens refilled evenly over window.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[limiterKey]*trackedLimiter
	now       func() time.Time
	lastSweep time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[limiterKey]*trackedLimiter), now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	k := limiterKey{key: key, limit: limit, window: window}
	t, ok := r.limiters[k]
	if !ok {
		t = &trackedLimiter{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		r.limiters[k] = t
	}
	t.lastSeen = now
	return t.lim.AllowN(now, 1), nil
}

func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < idleLimiterTTL {
		return
	}
	r.lastSweep = now
	for k, t := range r.limiters {
		if now.Sub(t.lastSeen) > idleLimiterTTL {
			delete(r.limiters, k)
		}
	}
}
