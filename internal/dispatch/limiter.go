package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limit configures the token bucket for one destination platform.
type Limit struct {
	RPS   float64
	Burst int
}

// Limiter throttles outbound uploads with an independent token bucket per
// destination. Destinations without a configured limit are not throttled.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a limiter from per-destination limits. A zero or
// negative RPS disables throttling for that destination.
func NewLimiter(limits map[string]Limit) *Limiter {
	l := &Limiter{buckets: make(map[string]*rate.Limiter, len(limits))}
	for name, lim := range limits {
		if lim.RPS <= 0 {
			continue
		}
		burst := lim.Burst
		if burst < 1 {
			burst = 1
		}
		l.buckets[name] = rate.NewLimiter(rate.Limit(lim.RPS), burst)
	}
	return l
}

// Wait blocks until the destination's bucket grants a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, destination string) error {
	l.mu.Lock()
	bucket := l.buckets[destination]
	l.mu.Unlock()

	if bucket == nil {
		return ctx.Err()
	}
	return bucket.Wait(ctx)
}

// SetLimit replaces the bucket for one destination at runtime.
func (l *Limiter) SetLimit(destination string, lim Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim.RPS <= 0 {
		delete(l.buckets, destination)
		return
	}
	burst := lim.Burst
	if burst < 1 {
		burst = 1
	}
	l.buckets[destination] = rate.NewLimiter(rate.Limit(lim.RPS), burst)
}
