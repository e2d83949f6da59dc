// Package health keeps a per-provider view of how the LLM backends are
// behaving. The worker feeds it every call outcome; the API surfaces it via
// /health. Error streaks walk a provider from healthy to degraded to down,
// and a down provider sits out a cooldown before traffic is suggested again.
package health

import (
	"sync"
	"time"
)

// State is the reported condition of a provider.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Stats is the exported health snapshot for one provider.
type Stats struct {
	ProviderID    string    `json:"provider_id"`
	State         State     `json:"state"`
	TotalRequests int64     `json:"total_requests"`
	TotalErrors   int64     `json:"total_errors"`
	ConsecErrors  int       `json:"consec_errors"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// TrackerConfig sets the streak thresholds and the down cooldown.
type TrackerConfig struct {
	ConsecErrorsForDegraded int
	ConsecErrorsForDown     int
	CooldownDuration        time.Duration
}

// DefaultConfig: degrade at 2 consecutive errors, down at 5, 30s cooldown.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ConsecErrorsForDegraded: 2,
		ConsecErrorsForDown:     5,
		CooldownDuration:        30 * time.Second,
	}
}

// Tracker aggregates call outcomes per provider. Safe for concurrent use.
type Tracker struct {
	cfg      TrackerConfig
	onUpdate func(providerID string, state State)

	mu        sync.RWMutex
	providers map[string]*Stats
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithOnUpdate registers a callback fired after every recorded outcome, not
// only on state changes, so external gauges can stay current.
func WithOnUpdate(fn func(providerID string, state State)) TrackerOption {
	return func(t *Tracker) { t.onUpdate = fn }
}

func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{cfg: cfg, providers: make(map[string]*Stats)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordSuccess notes a completed provider call and its latency. Any error
// streak and cooldown are cleared.
func (t *Tracker) RecordSuccess(providerID string, latencyMs float64) {
	t.mu.Lock()
	s := t.entry(providerID)
	s.TotalRequests++
	s.ConsecErrors = 0
	s.State = StateHealthy
	s.LastSuccessAt = time.Now()
	s.CooldownUntil = time.Time{}
	if s.TotalRequests == 1 {
		s.AvgLatencyMs = latencyMs
	} else {
		// Exponentially weighted so recent latency dominates.
		s.AvgLatencyMs = s.AvgLatencyMs*0.9 + latencyMs*0.1
	}
	t.mu.Unlock()

	t.fire(providerID, StateHealthy)
}

// RecordError notes a failed provider call and advances the streak through
// the degraded and down thresholds.
func (t *Tracker) RecordError(providerID string, errMsg string) {
	t.mu.Lock()
	s := t.entry(providerID)
	s.TotalRequests++
	s.TotalErrors++
	s.ConsecErrors++
	s.LastError = errMsg
	s.LastErrorTime = time.Now()

	switch {
	case s.ConsecErrors >= t.cfg.ConsecErrorsForDown:
		s.State = StateDown
		s.CooldownUntil = time.Now().Add(t.cfg.CooldownDuration)
	case s.ConsecErrors >= t.cfg.ConsecErrorsForDegraded:
		s.State = StateDegraded
	}
	state := s.State
	t.mu.Unlock()

	t.fire(providerID, state)
}

// IsAvailable reports whether a provider should receive traffic. Providers
// the tracker has never seen are assumed available.
func (t *Tracker) IsAvailable(providerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.providers[providerID]
	if !ok {
		return true
	}
	return s.State != StateDown || !time.Now().Before(s.CooldownUntil)
}

// GetStats returns a copy of one provider's snapshot. Unknown providers
// report healthy with zero counters.
func (t *Tracker) GetStats(providerID string) *Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.providers[providerID]; ok {
		cp := *s
		return &cp
	}
	return &Stats{ProviderID: providerID, State: StateHealthy}
}

// AllStats returns snapshots for every provider seen so far.
func (t *Tracker) AllStats() []Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stats, 0, len(t.providers))
	for _, s := range t.providers {
		out = append(out, *s)
	}
	return out
}

// GetErrorRate returns errors/requests over the provider's lifetime.
func (t *Tracker) GetErrorRate(providerID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.providers[providerID]; ok && s.TotalRequests > 0 {
		return float64(s.TotalErrors) / float64(s.TotalRequests)
	}
	return 0
}

func (t *Tracker) entry(providerID string) *Stats {
	s, ok := t.providers[providerID]
	if !ok {
		s = &Stats{ProviderID: providerID, State: StateHealthy}
		t.providers[providerID] = s
	}
	return s
}

func (t *Tracker) fire(providerID string, state State) {
	if t.onUpdate != nil {
		t.onUpdate(providerID, state)
	}
}
