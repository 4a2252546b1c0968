package middleware

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedRateLimiter keeps one token bucket per key.
type KeyedRateLimiter struct {
	buckets map[string]*rate.Limiter
	mu      sync.RWMutex
	limit   rate.Limit
	burst   int
	keyFn   func(*http.Request) string
}

// NewKeyedRateLimiter limits each key returned by keyFn to limit events per second with
// the given burst.
func NewKeyedRateLimiter(limit rate.Limit, burst int, keyFn func(*http.Request) string) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   limit,
		burst:   burst,
		keyFn:   keyFn,
	}
}

// NewWorkspaceRateLimiter limits authenticated requests per workspace. Mount it after
// WorkspaceAuth; requests without a workspace fall back to the client IP.
func NewWorkspaceRateLimiter(limit rate.Limit, burst int) *KeyedRateLimiter {
	return NewKeyedRateLimiter(limit, burst, func(r *http.Request) string {
		if ws, ok := WorkspaceID(r.Context()); ok {
			return "ws:" + ws
		}
		return "ip:" + clientIP(r)
	})
}

func (l *KeyedRateLimiter) getLimiter(k string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.buckets[k]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock
	if lim, ok = l.buckets[k]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.limit, l.burst)
	l.buckets[k] = lim
	return lim
}

// clientIP returns the client IP from X-Forwarded-For, X-Real-IP, or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}

// Middleware returns 429 once the request's key exceeds its rate.
func (l *KeyedRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.getLimiter(l.keyFn(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
