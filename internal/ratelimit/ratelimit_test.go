package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, apiKey string) int {
	req := httptest.NewRequest("GET", "/api/v1/questions/by-url", nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestBurstThenReject(t *testing.T) {
	l := New(1, 3, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		if code := doRequest(h, "pub_abc"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, code)
		}
	}
	if code := doRequest(h, "pub_abc"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", code)
	}
}

func TestKeysIsolated(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	if code := doRequest(h, "pub_a"); code != http.StatusOK {
		t.Fatalf("pub_a: expected 200, got %d", code)
	}
	if code := doRequest(h, "pub_a"); code != http.StatusTooManyRequests {
		t.Fatalf("pub_a second: expected 429, got %d", code)
	}
	// A different key has its own bucket.
	if code := doRequest(h, "pub_b"); code != http.StatusOK {
		t.Fatalf("pub_b: expected 200, got %d", code)
	}
}

func TestFallsBackToClientIP(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()
	h := l.Middleware(okHandler())

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP: expected 429, got %d", rec.Code)
	}
}

func TestRefill(t *testing.T) {
	l := New(1, 1, 20*time.Millisecond)
	defer l.Stop()
	h := l.Middleware(okHandler())

	if code := doRequest(h, "pub_a"); code != http.StatusOK {
		t.Fatal("first request must pass")
	}
	if code := doRequest(h, "pub_a"); code != http.StatusTooManyRequests {
		t.Fatal("bucket must be empty")
	}
	time.Sleep(30 * time.Millisecond)
	if code := doRequest(h, "pub_a"); code != http.StatusOK {
		t.Fatal("bucket must refill after the interval")
	}
}

func TestRejectionCounter(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejections_total"})
	l := New(1, 1, time.Minute, WithCounter(counter))
	defer l.Stop()
	h := l.Middleware(okHandler())

	doRequest(h, "pub_a")
	doRequest(h, "pub_a")

	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatal(err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("expected 1 rejection counted, got %f", got)
	}
}
