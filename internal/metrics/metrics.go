// Package metrics exposes Prometheus counters and histograms for the API
// server and the workers. Each process owns a private registry so tests never
// collide on the global one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec

	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	LLMCallsTotal   *prometheus.CounterVec
	CrawlBytesTotal prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizhub_requests_total",
			Help: "Total API requests served",
		}, []string{"route", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quizhub_request_latency_ms",
			Help:    "API request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"route"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizhub_jobs_total",
			Help: "Processing jobs by terminal outcome",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quizhub_job_duration_seconds",
			Help:    "End-to-end processing time per job",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quizhub_queue_depth",
			Help: "Queue entries by status",
		}, []string{"status"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizhub_llm_calls_total",
			Help: "LLM provider calls by provider and result",
		}, []string{"provider", "result"}),
		CrawlBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizhub_crawl_bytes_total",
			Help: "Total bytes of blog content stored",
		}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.JobsTotal, m.JobDuration,
		m.QueueDepth, m.LLMCallsTotal, m.CrawlBytesTotal)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
