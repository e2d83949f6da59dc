// Package ratelimit shields the API with per-caller token buckets. Requests
// are keyed by publisher API key so one widget deployment cannot starve the
// rest; anonymous traffic is keyed by client IP instead.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxKeys = 100000
	sweepEvery     = 5 * time.Minute
	idleExpiry     = 10 * time.Minute
)

type bucket struct {
	tokens   int
	lastFill time.Time
}

// Limiter holds one token bucket per caller key.
type Limiter struct {
	rate     int // tokens added per interval
	burst    int // bucket capacity
	interval time.Duration
	maxKeys  int
	counter  prometheus.Counter // optional, counts rejections

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithCounter attaches a Prometheus counter incremented on every 429.
func WithCounter(c prometheus.Counter) Option {
	return func(l *Limiter) { l.counter = c }
}

// New builds a limiter granting rate tokens per interval with a cap of burst,
// and starts the idle-bucket sweeper. Call Stop to end the sweeper.
func New(rate, burst int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		rate:     rate,
		burst:    burst,
		interval: interval,
		maxKeys:  defaultMaxKeys,
		buckets:  make(map[string]*bucket),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweep()
	return l
}

// Stop ends the background sweeper.
func (l *Limiter) Stop() {
	close(l.stop)
}

// Middleware enforces the limit per API key, falling back to X-Real-IP and
// then RemoteAddr for unauthenticated callers.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.Header.Get("X-Real-IP")
		}
		if key == "" {
			key = r.RemoteAddr
		}
		if !l.allow(key) {
			if l.counter != nil {
				l.counter.Inc()
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictColdest()
		}
		b = &bucket{tokens: l.burst, lastFill: time.Now()}
		l.buckets[key] = b
	}

	if intervals := int(time.Since(b.lastFill) / l.interval); intervals > 0 {
		b.tokens = min(b.tokens+intervals*l.rate, l.burst)
		b.lastFill = time.Now()
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// evictColdest drops the least recently refilled bucket. Caller holds l.mu.
func (l *Limiter) evictColdest() {
	var victim string
	var at time.Time
	for k, b := range l.buckets {
		if victim == "" || b.lastFill.Before(at) {
			victim, at = k, b.lastFill
		}
	}
	if victim != "" {
		delete(l.buckets, victim)
	}
}

// sweep drops buckets idle past expiry so one-off callers don't accumulate.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleExpiry)
			l.mu.Lock()
			for k, b := range l.buckets {
				if b.lastFill.Before(cutoff) {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
