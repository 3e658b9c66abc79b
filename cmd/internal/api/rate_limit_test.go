package api

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyedLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(2, time.Minute)

	if ok, _ := l.Allow("a", now); !ok {
		t.Fatalf("first event should pass")
	}
	if ok, _ := l.Allow("a", now.Add(20*time.Second)); !ok {
		t.Fatalf("second event should pass")
	}
	ok, retry := l.Allow("a", now.Add(30*time.Second))
	if ok {
		t.Fatalf("third event inside the window should be blocked")
	}
	if retry != 30*time.Second {
		t.Fatalf("expected retry=30s, got %v", retry)
	}
	if ok, _ := l.Allow("b", now.Add(30*time.Second)); !ok {
		t.Fatalf("other keys have their own window")
	}
	if ok, _ := l.Allow("a", now.Add(61*time.Second)); !ok {
		t.Fatalf("oldest event left the window; expected allow")
	}
}

func TestKeyedLimiter_PrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l := newKeyedLimiter(5, time.Second)

	l.Allow("a", now)
	l.Allow("b", now)
	if got := l.size(); got != 2 {
		t.Fatalf("expected 2 keys, got %d", got)
	}

	l.Allow("c", now.Add(10*time.Second))
	if got := l.size(); got != 1 {
		t.Fatalf("expected idle keys to be pruned, got %d keys", got)
	}
}

func TestKeyedLimiter_DefaultsOnInvalidInput(t *testing.T) {
	l := newKeyedLimiter(0, 0)
	if l.limit != defaultCreateLimit || l.window != defaultCreateWindow {
		t.Fatalf("unexpected defaults: limit=%d window=%v", l.limit, l.window)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/number", nil)
	r.RemoteAddr = "10.0.0.5:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
	r.Header.Set("X-Real-IP", "198.51.100.10")

	if got := clientIP(r, false); got.String() != "10.0.0.5" {
		t.Fatalf("untrusted proxy headers must be ignored, got %v", got)
	}
	if got := clientIP(r, true); got.String() != "198.51.100.9" {
		t.Fatalf("expected first forwarded ip, got %v", got)
	}

	r.Header.Del("X-Forwarded-For")
	if got := clientIP(r, true); got.String() != "198.51.100.10" {
		t.Fatalf("expected X-Real-IP, got %v", got)
	}

	r.Header.Del("X-Real-IP")
	r.RemoteAddr = "garbage"
	if got := clientIP(r, true); got != nil {
		t.Fatalf("expected nil ip, got %v", got)
	}
}
