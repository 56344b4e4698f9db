package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one x/time token bucket per key. Idle buckets are
// garbage-collected so one-off clients do not accumulate forever.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryLimiter(ttl, sweepEvery time.Duration) *MemoryLimiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	m := &MemoryLimiter{
		buckets: make(map[string]*bucket),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go m.sweep(sweepEvery)
	return m
}

func (m *MemoryLimiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			m.mu.Lock()
			for k, b := range m.buckets {
				if now.Sub(b.lastSeen) > m.ttl {
					delete(m.buckets, k)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, lim Limit) (Decision, error) {
	m.mu.Lock()
	b := m.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(lim.RPS), int(lim.Burst))}
		m.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l := b.lim
	m.mu.Unlock()

	dec := Decision{Allowed: l.Allow()}
	dec.Remaining = l.Tokens()
	if !dec.Allowed {
		dec.RetryAfterSeconds = 1
	}
	return dec, nil
}

// Len reports live buckets, for the admin surface and tests.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
