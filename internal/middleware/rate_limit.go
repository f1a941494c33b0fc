package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gentlechase/api/internal/httpx"
)

const defaultMaxRateLimitEntries = 10000

type loginAttempt struct {
	count      int
	windowEnds time.Time
}

type LoginRateLimiter struct {
	inner *ipRateLimiter
}

type IPRateLimiter struct {
	inner *ipRateLimiter
}

type ipRateLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	attempt    map[string]loginAttempt
}

func NewLoginRateLimiter(limit int, window time.Duration) *LoginRateLimiter {
	return &LoginRateLimiter{inner: newIPRateLimiter(limit, window, defaultMaxRateLimitEntries)}
}

func NewIPRateLimiter(limit int, window time.Duration) *IPRateLimiter {
	return NewIPRateLimiterWithMaxEntries(limit, window, defaultMaxRateLimitEntries)
}

// NewIPRateLimiterWithMaxEntries bounds the number of tracked addresses.
// When full, expired windows are dropped first, then the oldest window.
func NewIPRateLimiterWithMaxEntries(limit int, window time.Duration, maxEntries int) *IPRateLimiter {
	return &IPRateLimiter{inner: newIPRateLimiter(limit, window, maxEntries)}
}

func newIPRateLimiter(limit int, window time.Duration, maxEntries int) *ipRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxRateLimitEntries
	}
	return &ipRateLimiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		attempt:    map[string]loginAttempt{},
	}
}

func (rl *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return rl.inner.middleware("Too many login attempts", next)
}

func (rl *IPRateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return func(next http.Handler) http.Handler {
		return rl.inner.middleware(message, next)
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.attempt[ip]
	if !ok && len(rl.attempt) >= rl.maxEntries {
		rl.evictLocked(now)
	}
	if entry.windowEnds.Before(now) {
		entry = loginAttempt{count: 0, windowEnds: now.Add(rl.window)}
	}
	entry.count++
	rl.attempt[ip] = entry
	return entry.count <= rl.limit
}

func (rl *ipRateLimiter) evictLocked(now time.Time) {
	var oldestIP string
	var oldest time.Time
	for ip, entry := range rl.attempt {
		if entry.windowEnds.Before(now) {
			delete(rl.attempt, ip)
			continue
		}
		if oldestIP == "" || entry.windowEnds.Before(oldest) {
			oldestIP, oldest = ip, entry.windowEnds
		}
	}
	if len(rl.attempt) >= rl.maxEntries && oldestIP != "" {
		delete(rl.attempt, oldestIP)
	}
}

func (rl *ipRateLimiter) middleware(message string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r.RemoteAddr)
		if ip == "" {
			ip = "unknown"
		}

		if !rl.allow(ip) {
			httpx.WriteError(w, r, http.StatusTooManyRequests, "rate_limited", message, nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
