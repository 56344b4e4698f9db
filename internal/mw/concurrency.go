package mw

import (
	"encoding/json"
	"net/http"
)

// Semaphore caps in-flight requests per route. Zero or negative capacity
// disables the cap.
type Semaphore struct {
	slots chan struct{}
}

func NewSemaphore(maxInFlight int) *Semaphore {
	if maxInFlight <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{slots: make(chan struct{}, maxInFlight)}
}

func (s *Semaphore) Enabled() bool { return s != nil && s.slots != nil }

func (s *Semaphore) Cap() int {
	if !s.Enabled() {
		return 0
	}
	return cap(s.slots)
}

func (s *Semaphore) InFlight() int {
	if !s.Enabled() {
		return 0
	}
	return len(s.slots)
}

func (s *Semaphore) TryAcquire() bool {
	if !s.Enabled() {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Semaphore) Release() {
	if !s.Enabled() {
		return
	}
	select {
	case <-s.slots:
	default:
	}
}

// ConcurrencyLimit sheds load instead of queueing: a route at capacity
// answers 503 immediately rather than holding the client.
func ConcurrencyLimit(sem *Semaphore, next http.Handler) http.Handler {
	if !sem.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":         "too_busy",
				"route":         RouteName(r.Context()),
				"max_in_flight": sem.Cap(),
			})
			return
		}
		defer sem.Release()
		next.ServeHTTP(w, r)
	})
}
