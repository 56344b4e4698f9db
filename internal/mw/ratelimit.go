package mw

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/frontgate/frontgate/internal/netx"
	"github.com/frontgate/frontgate/internal/ratelimit"
)

type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     float64
	Scope     string // "user" | "ip"
	RouteName string
}

// IPResolver derives the client address used as a rate-limit key.
// Forwarding headers are only believed when the direct peer is a
// trusted proxy.
type IPResolver struct {
	Trusted *netx.PrefixSet
}

func (ipr IPResolver) ClientIP(r *http.Request) string {
	peer := parsePeer(r.RemoteAddr)
	if peer.IsValid() && ipr.Trusted.Contains(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Left-most entry is the originating client.
			first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if a, err := netip.ParseAddr(first); err == nil {
				return a.String()
			}
		}
		if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
			return a.String()
		}
	}
	if peer.IsValid() {
		return peer.String()
	}
	return r.RemoteAddr
}

func parsePeer(remoteAddr string) netip.Addr {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	a, _ := netip.ParseAddr(host)
	return a
}

// RateLimit applies the route's token bucket. A limiter backend error
// fails open: a broken Redis must slow nobody down.
func RateLimit(limiter ratelimit.Limiter, ipr IPResolver, cfg RateLimitConfig, next http.Handler) http.Handler {
	if !cfg.Enabled {
		return next
	}
	userScoped := strings.EqualFold(cfg.Scope, "user")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "rl:" + cfg.RouteName + ":"
		scope := "ip"
		if userScoped {
			if sub, ok := Subject(r.Context()); ok {
				key += "u:" + sub
				scope = "user"
			} else {
				key += "ip:" + ipr.ClientIP(r)
			}
		} else {
			key += "ip:" + ipr.ClientIP(r)
		}

		dec, err := limiter.Allow(r.Context(), key, ratelimit.Limit{RPS: cfg.RPS, Burst: cfg.Burst})
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if !dec.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfterSeconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":               "rate_limited",
				"route":               cfg.RouteName,
				"scope":               scope,
				"retry_after_seconds": dec.RetryAfterSeconds,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
