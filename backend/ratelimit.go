package backend

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps a token bucket per client address and evicts
// buckets that have been idle longer than idleTTL.
type clientLimiter struct {
	m       sync.Mutex
	limit   rate.Limit
	burst   int
	byKey   map[string]*bucket
	hits    uint64
	idleTTL time.Duration

	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter allows n requests per window per client, refilling
// evenly across the window.
func newClientLimiter(n int, window time.Duration) *clientLimiter {
	if n <= 0 || window <= 0 {
		return nil
	}
	return &clientLimiter{
		limit:   rate.Every(window / time.Duration(n)),
		burst:   n,
		byKey:   map[string]*bucket{},
		idleTTL: window,
	}
}

func (l *clientLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.m.Lock()
	defer l.m.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

func (l *clientLimiter) Wrap(next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientAddress(r, l.TrustProxy), time.Now()) {
			rateLimitedCounter.Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many authentication attempts. Please try again later.")
			return
		}
		next(w, r)
	}
}

func clientAddress(r *http.Request, trustProxy bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustProxy && fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
