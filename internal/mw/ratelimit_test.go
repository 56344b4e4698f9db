package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/frontgate/frontgate/internal/netx"
	"github.com/frontgate/frontgate/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRateLimitDeniesBeyondBurst(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(time.Minute, time.Minute)
	defer limiter.Close()

	h := RateLimit(limiter, IPResolver{}, RateLimitConfig{
		Enabled:   true,
		RPS:       1,
		Burst:     2,
		Scope:     "ip",
		RouteName: "api",
	}, okHandler())

	var got []int
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = "198.51.100.7:4444"
		h.ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}

	if got[0] != 200 || got[1] != 200 {
		t.Fatalf("burst requests should pass, got %v", got)
	}
	limited := 0
	for _, c := range got[2:] {
		if c == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatalf("expected 429 beyond burst, got %v", got)
	}
}

func TestRateLimitKeysByClientIP(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(time.Minute, time.Minute)
	defer limiter.Close()

	h := RateLimit(limiter, IPResolver{}, RateLimitConfig{
		Enabled: true, RPS: 1, Burst: 1, Scope: "ip", RouteName: "api",
	}, okHandler())

	send := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if c := send("198.51.100.7:1"); c != 200 {
		t.Fatalf("first client first request: %d", c)
	}
	if c := send("198.51.100.7:2"); c != http.StatusTooManyRequests {
		t.Fatalf("first client second request should be limited: %d", c)
	}
	if c := send("198.51.100.8:1"); c != 200 {
		t.Fatalf("second client must have its own bucket: %d", c)
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(time.Minute, time.Minute)
	defer limiter.Close()

	h := RateLimit(limiter, IPResolver{}, RateLimitConfig{Enabled: false}, okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != 200 {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestClientIPTrustsForwardedOnlyFromTrustedPeer(t *testing.T) {
	trusted, err := netx.ParsePrefixSet([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	ipr := IPResolver{Trusted: trusted}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")
	if ip := ipr.ClientIP(req); ip != "203.0.113.9" {
		t.Fatalf("trusted peer: expected forwarded client, got %q", ip)
	}

	req.RemoteAddr = "198.51.100.1:1234"
	if ip := ipr.ClientIP(req); ip != "198.51.100.1" {
		t.Fatalf("untrusted peer: forwarded header must be ignored, got %q", ip)
	}
}
