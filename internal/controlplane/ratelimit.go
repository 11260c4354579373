package controlplane

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// IngressLimiter is a per-client fixed-window rate limiter applied at the
// HTTP boundary, distinct from the per-tool token-bucket budget in
// internal/tool. Grounded on lookatitude-beluga-ai's
// rest.Server.rateLimitMiddleware (per-client-IP request counter reset
// every window), adapted with a mutex since that implementation was not
// safe for concurrent requests.
type IngressLimiter struct {
	mu             sync.Mutex
	clients        map[string]*clientWindow
	requestsPerMin int
	window         time.Duration
}

type clientWindow struct {
	resetAt  time.Time
	requests int
}

// NewIngressLimiter builds an IngressLimiter allowing requestsPerMin
// requests per client IP per minute. requestsPerMin<=0 disables limiting.
func NewIngressLimiter(requestsPerMin int) *IngressLimiter {
	return &IngressLimiter{
		clients:        make(map[string]*clientWindow),
		requestsPerMin: requestsPerMin,
		window:         time.Minute,
	}
}

// Allow reports whether clientIP may make another request in the current
// window, incrementing its counter as a side effect.
func (l *IngressLimiter) Allow(clientIP string) bool {
	if l.requestsPerMin <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	client, ok := l.clients[clientIP]
	if !ok || now.After(client.resetAt) {
		l.clients[clientIP] = &clientWindow{requests: 1, resetAt: now.Add(l.window)}
		return true
	}
	client.requests++
	return client.requests <= l.requestsPerMin
}

// Middleware rejects requests over the configured per-IP rate with 429.
func (l *IngressLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
