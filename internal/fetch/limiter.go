package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter enforces per-host politeness: a minimum delay between requests
// and an optional token-bucket rate limit.
//
// A nil *HostLimiter imposes no limits.
type HostLimiter struct {
	delay time.Duration
	rps   float64
	burst int

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter. delay is the minimum gap between two
// requests to the same host; rps caps the request rate per host (0 disables
// the cap). It returns nil when neither limit is set.
func NewHostLimiter(delay time.Duration, rps float64) *HostLimiter {
	if delay <= 0 && rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		delay:    delay,
		rps:      rps,
		burst:    burst,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil {
		return nil
	}
	host = strings.ToLower(host)

	var limiter *rate.Limiter
	if l.rps > 0 {
		limiter = l.limiterFor(host)
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if l.delay <= 0 {
		return nil
	}

	// Reserve the next slot under the lock so concurrent workers queue up
	// behind each other instead of all firing after the same sleep.
	l.mu.Lock()
	now := time.Now()
	next := now
	if last, ok := l.last[host]; ok && last.Add(l.delay).After(now) {
		next = last.Add(l.delay)
	}
	l.last[host] = next
	l.mu.Unlock()

	sleep := next.Sub(now)
	if sleep <= 0 {
		return nil
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *HostLimiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}
