package mw

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/frontgate/frontgate/internal/httpx"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type BreakerConfig struct {
	Enabled             bool
	FailureThreshold    int           // consecutive failures before opening
	OpenDuration        time.Duration // how long to fast-fail
	HalfOpenMaxInFlight int           // trial requests allowed while half-open
}

// CircuitBreaker fast-fails a route whose upstream keeps erroring, so a
// dead backend stops consuming connections and comes back via a small
// number of trial requests. One upstream's breaker never gates another
// route's traffic.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trials   int
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 10 * time.Second
	}
	if cfg.HalfOpenMaxInFlight <= 0 {
		cfg.HalfOpenMaxInFlight = 1
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

func (b *CircuitBreaker) Enabled() bool { return b != nil && b.cfg.Enabled }

// Allow reports whether a request may proceed, and when it may not, how
// long the caller should wait before retrying.
func (b *CircuitBreaker) Allow() (bool, time.Duration) {
	if !b.Enabled() {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		elapsed := time.Since(b.openedAt)
		if elapsed < b.cfg.OpenDuration {
			return false, b.cfg.OpenDuration - elapsed
		}
		b.state = BreakerHalfOpen
		b.failures = 0
		b.trials = 0
		fallthrough
	case BreakerHalfOpen:
		if b.trials >= b.cfg.HalfOpenMaxInFlight {
			return false, time.Second
		}
		b.trials++
		return true, 0
	default:
		return true, 0
	}
}

// Report records the outcome of a request that Allow admitted.
func (b *CircuitBreaker) Report(success bool) {
	if !b.Enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	case BreakerHalfOpen:
		if b.trials > 0 {
			b.trials--
		}
		if success {
			// A single healthy trial closes the breaker.
			b.state = BreakerClosed
			b.failures = 0
			return
		}
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.failures = b.cfg.FailureThreshold
	}
}

type BreakerStats struct {
	State             BreakerState `json:"state"`
	Failures          int          `json:"failures"`
	RetryAfterSeconds int          `json:"retry_after_seconds"`
}

func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	retry := 0
	if b.state == BreakerOpen {
		if rem := b.cfg.OpenDuration - time.Since(b.openedAt); rem > 0 {
			retry = int((rem + time.Second - 1) / time.Second)
		}
	}
	return BreakerStats{State: b.state, Failures: b.failures, RetryAfterSeconds: retry}
}

// CircuitBreak wraps a route handler. Gateway-generated 502/504s and
// upstream 5xx both count as failures; 4xx does not, since a client
// error says nothing about upstream health.
func CircuitBreak(b *CircuitBreaker, next http.Handler) http.Handler {
	if !b.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retry := b.Allow()
		if !allowed {
			if retry > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int((retry+time.Second-1)/time.Second)))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":   "circuit_open",
				"message": "upstream temporarily unavailable",
				"route":   RouteName(r.Context()),
			})
			return
		}

		sw := &httpx.StatusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.Status
		if status == 0 {
			status = http.StatusOK
		}
		b.Report(status < 500)
	})
}
