package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/raaihank/log-sentinel/internal/config"
	"github.com/raaihank/log-sentinel/internal/metrics"
)

// loggingMiddleware logs HTTP requests and counts them by route
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.LogRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start), getClientIP(r))
		metrics.HTTPRequests.WithLabelValues(r.Method, routeTemplate(r), strconv.Itoa(rw.statusCode)).Inc()
	})
}

// rateLimitMiddleware rejects clients exceeding their request budget
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unknown"
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i > 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// rateLimiter keeps one token bucket per client
type rateLimiter struct {
	config config.RateLimitConfig

	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		config:      cfg,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
	}
}

func (l *rateLimiter) allow(client string) bool {
	now := time.Now()

	l.mu.Lock()
	if l.config.IdleTimeout > 0 && now.Sub(l.lastCleanup) > l.config.IdleTimeout {
		l.cleanup(now)
	}
	v, ok := l.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)}
		l.visitors[client] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// cleanup drops idle visitors, l.mu must be held
func (l *rateLimiter) cleanup(now time.Time) {
	for client, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.config.IdleTimeout {
			delete(l.visitors, client)
		}
	}
	l.lastCleanup = now
}
