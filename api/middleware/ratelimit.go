package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// staleLimiterTTL is how long a per-IP limiter survives without traffic
// before it's evicted, so a churn of one-shot clients doesn't leak memory.
const staleLimiterTTL = 10 * time.Minute

// perIPLimiter bounds request rate independently for each client IP,
// evicting idle entries so long-running processes don't accumulate one
// bucket per IP that ever connected.
type perIPLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     rate.Limit
	burst    int
	logger   *zap.Logger
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newPerIPLimiter(ratePerSecond float64, burst int, logger *zap.Logger) *perIPLimiter {
	l := &perIPLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(ratePerSecond),
		burst:   burst,
		logger:  logger,
	}
	go l.evictLoop()
	return l
}

func (l *perIPLimiter) evictLoop() {
	ticker := time.NewTicker(staleLimiterTTL)
	defer ticker.Stop()
	for range ticker.C {
		l.evictStale()
	}
}

func (l *perIPLimiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-staleLimiterTTL)
	for ip, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

func (l *perIPLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.lastAccess = time.Now()
	return b.limiter.Allow()
}

// RateLimit rejects requests beyond ratePerSecond (with burst headroom)
// per client IP, returning 429 for anything over the limit.
func RateLimit(ratePerSecond float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	limiter := newPerIPLimiter(ratePerSecond, burst, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.allow(ip) {
				logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the leftmost X-Forwarded-For / X-Real-IP entry,
// falling back to the raw remote address, and validates each candidate
// so a malformed header can't be used to bucket-shop past the limiter.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		candidate := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
