package middleware

import (
	"context"
	"fmt"
	"hubrpc/message"
	"hubrpc/rpcerr"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a token bucket per client id. Rejected calls
// fail with rpcerr.ErrRateLimited before reaching the handler.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiters := newLimiterSet(r, burst, time.Now)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request, oneWay bool) (*message.Response, error) {
			if !limiters.allow(req.ClientID) {
				return nil, fmt.Errorf("%w: client %s", rpcerr.ErrRateLimited, req.ClientID)
			}
			return next(ctx, req, oneWay)
		}
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// limiterSet holds one bucket per client id. A bucket left alone for longer
// than it takes to refill completely is indistinguishable from a new one,
// so such buckets are dropped by a sweep that runs at most once per refill
// period.
type limiterSet struct {
	limit     rate.Limit
	burst     int
	idle      time.Duration // 0 disables the sweep
	now       func() time.Time
	entries   sync.Map // client id → *limiterEntry
	lastSweep atomic.Int64
}

func newLimiterSet(r float64, burst int, now func() time.Time) *limiterSet {
	s := &limiterSet{limit: rate.Limit(r), burst: burst, now: now}
	if r > 0 {
		s.idle = max(time.Duration(float64(burst)/r*float64(time.Second)), time.Second)
	}
	s.lastSweep.Store(now().UnixNano())
	return s
}

func (s *limiterSet) allow(clientID string) bool {
	now := s.now()
	v, ok := s.entries.Load(clientID)
	if !ok {
		v, _ = s.entries.LoadOrStore(clientID, &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)})
	}
	entry := v.(*limiterEntry)
	entry.lastSeen.Store(now.UnixNano())
	allowed := entry.limiter.AllowN(now, 1)
	s.sweep(now)
	return allowed
}

func (s *limiterSet) sweep(now time.Time) {
	if s.idle == 0 {
		return
	}
	last := s.lastSweep.Load()
	if now.Sub(time.Unix(0, last)) < s.idle || !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	s.entries.Range(func(key, v any) bool {
		if now.Sub(time.Unix(0, v.(*limiterEntry).lastSeen.Load())) > s.idle {
			s.entries.Delete(key)
		}
		return true
	})
}

func (s *limiterSet) len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
