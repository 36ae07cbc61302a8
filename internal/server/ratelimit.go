package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter keeps one token bucket per user.
type userLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastPrune time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserLimiter returns nil when rps is zero, which allows everything.
func newUserLimiter(rps float64, burst int) *userLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &userLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	v, ok := l.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now
	if idle := l.idleAfter(); now.Sub(l.lastPrune) >= idle {
		l.prune(now, idle)
		l.lastPrune = now
	}
	return v.limiter.AllowN(now, 1)
}

// idleAfter is how long a bucket takes to refill completely, plus a minute.
// Pruning runs at most once per that period.
func (l *userLimiter) idleAfter() time.Duration {
	return time.Duration(float64(l.burst)/float64(l.limit)*float64(time.Second)) + time.Minute
}

// prune drops buckets not seen for longer than idle.
func (l *userLimiter) prune(now time.Time, idle time.Duration) {
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(l.visitors, id)
		}
	}
}
