// Package throttle limits how fast a single account may submit bids.
//
// Each account gets a token bucket from golang.org/x/time/rate: Burst tokens
// to start with, refilled at Rate tokens per second. A bid spends one token.
// Bids arriving on an empty bucket are turned away before they reach the
// store, so one client cannot queue up row locks on a hot auction.
package throttle

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the account's bucket is empty.
var ErrRateLimited = errors.New("throttle: too many requests")

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	// Rate is the refill rate in tokens per second.
	Rate rate.Limit
	// Burst is the bucket capacity.
	Burst int

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter creates a limiter. Non-positive arguments fall back to one
// token per second with a burst of one.
func NewLimiter(perSecond, burst int) *Limiter {
	if perSecond < 1 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		Rate:    rate.Limit(perSecond),
		Burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow spends one of key's tokens, or returns ErrRateLimited together with
// the wait until the next token.
func (l *Limiter) Allow(key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.Rate, l.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.lim.AllowN(now, 1) {
		return 0, nil
	}
	r := b.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait, ErrRateLimited
}

// Prune drops buckets that are full again and unused for at least idle,
// keeping the map from growing with every account ever seen.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= idle && b.lim.TokensAt(now) >= float64(l.Burst) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Middleware rejects requests with 429 once the key returned by keyFn runs
// out of tokens. Requests with an empty key pass through.
func (l *Limiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if wait, err := l.Allow(key); err != nil {
				secs := int(wait/time.Second) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many bids, slow down","code":"RATE_LIMITED"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
