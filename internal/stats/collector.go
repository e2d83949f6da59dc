// Package stats keeps rolling in-memory aggregates of finished processing
// jobs so the admin stats endpoint can answer without a Prometheus scrape.
// Snapshots age out after the largest window plus slack.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is one finished job as recorded by the worker.
type Snapshot struct {
	Timestamp     time.Time
	PublisherID   string
	DurationSecs  float64
	Success       bool
	ErrorType     string
	QuestionCount int
}

// Window names a rolling aggregation span.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows is the span set reported by the stats endpoint.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Duration: time.Minute},
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate is the computed summary for one window, optionally scoped to a
// publisher.
type Aggregate struct {
	Window             string  `json:"window"`
	PublisherID        string  `json:"publisher_id,omitempty"`
	JobCount           int     `json:"job_count"`
	ErrorCount         int     `json:"error_count"`
	ErrorRate          float64 `json:"error_rate"`
	AvgDurationSecs    float64 `json:"avg_duration_seconds"`
	P95DurationSecs    float64 `json:"p95_duration_seconds"`
	QuestionsGenerated int     `json:"questions_generated"`
}

// Collector stores snapshots in arrival order and aggregates on demand.
type Collector struct {
	windows []Window
	maxAge  time.Duration

	mu        sync.RWMutex
	snapshots []Snapshot
}

func NewCollector() *Collector {
	return &Collector{
		windows: DefaultWindows(),
		// Slightly past the 24h window so boundary snapshots survive.
		maxAge: 25 * time.Hour,
	}
}

// Record appends one job snapshot, stamping it if the worker did not.
func (c *Collector) Record(s Snapshot) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
}

// Prune drops snapshots past the retention age.
func (c *Collector) Prune() {
	c.mu.Lock()
	c.dropExpired()
	c.mu.Unlock()
}

// SnapshotCount reports how many snapshots are currently retained.
func (c *Collector) SnapshotCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

// Global aggregates across all publishers, one Aggregate per non-empty
// window.
func (c *Collector) Global() []Aggregate {
	snaps := c.working()
	now := time.Now()

	var out []Aggregate
	for _, w := range c.windows {
		if inWindow := since(snaps, now.Add(-w.Duration)); len(inWindow) > 0 {
			out = append(out, summarize(w.Name, "", inWindow))
		}
	}
	return out
}

// SummaryByPublisher aggregates per publisher, keyed by window name.
func (c *Collector) SummaryByPublisher() map[string][]Aggregate {
	snaps := c.working()
	now := time.Now()

	out := make(map[string][]Aggregate)
	for _, w := range c.windows {
		grouped := make(map[string][]Snapshot)
		for _, s := range since(snaps, now.Add(-w.Duration)) {
			grouped[s.PublisherID] = append(grouped[s.PublisherID], s)
		}
		for pubID, group := range grouped {
			out[w.Name] = append(out[w.Name], summarize(w.Name, pubID, group))
		}
	}
	return out
}

// working prunes under the write lock and returns a copy, so aggregation
// never races with Record.
func (c *Collector) working() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropExpired()
	cp := make([]Snapshot, len(c.snapshots))
	copy(cp, c.snapshots)
	return cp
}

// dropExpired trims the aged-out prefix. Snapshots arrive roughly in time
// order, so a prefix scan suffices. Caller holds the write lock.
func (c *Collector) dropExpired() {
	cutoff := time.Now().Add(-c.maxAge)
	i := 0
	for i < len(c.snapshots) && c.snapshots[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.snapshots = c.snapshots[i:]
	}
}

func since(snaps []Snapshot, cutoff time.Time) []Snapshot {
	var out []Snapshot
	for _, s := range snaps {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func summarize(window, publisherID string, snaps []Snapshot) Aggregate {
	a := Aggregate{Window: window, PublisherID: publisherID, JobCount: len(snaps)}

	durations := make([]float64, 0, len(snaps))
	var total float64
	for _, s := range snaps {
		total += s.DurationSecs
		durations = append(durations, s.DurationSecs)
		a.QuestionsGenerated += s.QuestionCount
		if !s.Success {
			a.ErrorCount++
		}
	}
	if a.JobCount > 0 {
		a.AvgDurationSecs = total / float64(a.JobCount)
		a.ErrorRate = float64(a.ErrorCount) / float64(a.JobCount)
	}

	sort.Float64s(durations)
	if len(durations) > 0 {
		idx := int(float64(len(durations)) * 0.95)
		if idx >= len(durations) {
			idx = len(durations) - 1
		}
		a.P95DurationSecs = durations[idx]
	}
	return a
}
