package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultCreateLimit  = 10
	defaultCreateWindow = time.Minute
	// Keys idle for longer than this many windows are dropped on the next Allow.
	limiterIdleWindows = 4
)

// keyedLimiter is a sliding-window limiter keyed by client (usually the IP).
type keyedLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	keys      map[string][]time.Time
	lastPrune time.Time
}

func newKeyedLimiter(limit int, window time.Duration) *keyedLimiter {
	if limit <= 0 {
		limit = defaultCreateLimit
	}
	if window <= 0 {
		window = defaultCreateWindow
	}
	return &keyedLimiter{
		limit:  limit,
		window: window,
		keys:   make(map[string][]time.Time),
	}
}

// Allow records an event for key at now. When the key is over its limit it
// returns false and the time until the oldest event leaves the window.
func (l *keyedLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	cut := now.Add(-l.window)
	events := l.keys[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= l.limit {
		l.keys[key] = dst
		retry := dst[0].Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return false, retry
	}
	l.keys[key] = append(dst, now)
	return true, 0
}

func (l *keyedLimiter) pruneLocked(now time.Time) {
	idle := time.Duration(limiterIdleWindows) * l.window
	if now.Sub(l.lastPrune) < idle {
		return
	}
	l.lastPrune = now
	for k, events := range l.keys {
		if len(events) == 0 || now.Sub(events[len(events)-1]) > idle {
			delete(l.keys, k)
		}
	}
}

func (l *keyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many sessions requested")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
