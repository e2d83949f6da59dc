package stats

import (
	"testing"
	"time"
)

func TestGlobalAggregation(t *testing.T) {
	c := NewCollector()
	now := time.Now().UTC()

	c.Record(Snapshot{Timestamp: now, PublisherID: "pub-1", DurationSecs: 2, Success: true, QuestionCount: 5})
	c.Record(Snapshot{Timestamp: now, PublisherID: "pub-1", DurationSecs: 4, Success: false, ErrorType: "CRAWL_EMPTY"})
	c.Record(Snapshot{Timestamp: now, PublisherID: "pub-2", DurationSecs: 6, Success: true, QuestionCount: 3})

	global := c.Global()
	if len(global) == 0 {
		t.Fatal("expected aggregates")
	}
	for _, a := range global {
		if a.JobCount != 3 {
			t.Errorf("window %s: expected 3 jobs, got %d", a.Window, a.JobCount)
		}
		if a.ErrorCount != 1 {
			t.Errorf("window %s: expected 1 error, got %d", a.Window, a.ErrorCount)
		}
		if a.QuestionsGenerated != 8 {
			t.Errorf("window %s: expected 8 questions, got %d", a.Window, a.QuestionsGenerated)
		}
		if a.AvgDurationSecs != 4 {
			t.Errorf("window %s: expected avg 4s, got %f", a.Window, a.AvgDurationSecs)
		}
	}
}

func TestSummaryByPublisher(t *testing.T) {
	c := NewCollector()
	now := time.Now().UTC()

	c.Record(Snapshot{Timestamp: now, PublisherID: "pub-1", DurationSecs: 1, Success: true, QuestionCount: 5})
	c.Record(Snapshot{Timestamp: now, PublisherID: "pub-2", DurationSecs: 3, Success: true, QuestionCount: 5})

	byPub := c.SummaryByPublisher()
	aggs, ok := byPub["1h"]
	if !ok {
		t.Fatal("expected a 1h window")
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 publishers in 1h window, got %d", len(aggs))
	}
}

func TestOldSnapshotsExcluded(t *testing.T) {
	c := NewCollector()
	now := time.Now().UTC()

	c.Record(Snapshot{Timestamp: now.Add(-2 * time.Hour), PublisherID: "pub-1", DurationSecs: 1, Success: true})
	c.Record(Snapshot{Timestamp: now, PublisherID: "pub-1", DurationSecs: 1, Success: true})

	for _, a := range c.Global() {
		switch a.Window {
		case "1m", "5m", "1h":
			if a.JobCount != 1 {
				t.Errorf("window %s: expected 1 job, got %d", a.Window, a.JobCount)
			}
		case "24h":
			if a.JobCount != 2 {
				t.Errorf("window 24h: expected 2 jobs, got %d", a.JobCount)
			}
		}
	}
}

func TestPruneDropsExpired(t *testing.T) {
	c := NewCollector()
	c.Record(Snapshot{Timestamp: time.Now().Add(-26 * time.Hour), PublisherID: "pub-1"})
	c.Record(Snapshot{Timestamp: time.Now(), PublisherID: "pub-1"})

	c.Prune()
	if n := c.SnapshotCount(); n != 1 {
		t.Errorf("expected 1 snapshot after prune, got %d", n)
	}
}

func TestP95(t *testing.T) {
	c := NewCollector()
	now := time.Now().UTC()
	for i := 1; i <= 100; i++ {
		c.Record(Snapshot{Timestamp: now, PublisherID: "pub-1", DurationSecs: float64(i), Success: true})
	}
	for _, a := range c.Global() {
		if a.Window == "1h" && (a.P95DurationSecs < 95 || a.P95DurationSecs > 97) {
			t.Errorf("expected p95 near 96, got %f", a.P95DurationSecs)
		}
	}
}
