package middleware

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/apierror"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/telemetry"
)

const (
	// rateLimitClients bounds the number of tracked client addresses.
	rateLimitClients = 10000
	// rateLimitIdle drops limiters for clients that stopped calling.
	rateLimitIdle = 10 * time.Minute
)

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	errors   apierror.Writer
}

// NewRateLimiter allows perSecond sustained requests with the given burst per client.
func NewRateLimiter(perSecond float64, burst int, errs apierror.Writer) (*RateLimiter, error) {
	if perSecond <= 0 || burst <= 0 {
		return nil, errors.New("rate limiter requires a positive rate and burst")
	}
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](rateLimitClients, nil, rateLimitIdle),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		errors:   errs,
	}, nil
}

// Handler rejects requests above the client's budget with 429.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.limiterFor(ip).Allow() {
			telemetry.RateLimitedTotal.Inc()
			w.Header().Set("Retry-After", "1")
			l.errors.Write(w, r, apierror.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the limiter for ip, creating it on first use.
// The lock makes get-or-create atomic; the LRU itself is already synchronized.
func (l *RateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, lim)
	return lim
}

// clientIP uses RemoteAddr, which chi's RealIP middleware has already
// rewritten from X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}
