package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RunsTotal          prometheus.Counter
	RunsFailed         prometheus.Counter
	ExtractionFailures prometheus.Counter
	RecordsReturned    prometheus.Counter
	UpstreamNon2xx     prometheus.Counter
	FetchDuration      prometheus.Histogram
	RateLimited        prometheus.Counter
	UpdatesTotal       prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "runs_total",
				Help:      "Total agent runs started",
			}),
			RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "runs_failed_total",
				Help:      "Total agent runs that ended without an artifact",
			}),
			ExtractionFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "extraction_failures_total",
				Help:      "Total requests whose search parameters could not be extracted",
			}),
			RecordsReturned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "records_returned_total",
				Help:      "Total interaction records emitted in artifacts",
			}),
			UpstreamNon2xx: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "upstream_non_2xx_total",
				Help:      "Total interaction queries answered with a non-2xx status",
			}),
			FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "globi_agent",
				Name:      "fetch_duration_seconds",
				Help:      "Latency of interaction queries against GloBI",
				Buckets:   prometheus.DefBuckets,
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			}),
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "globi_agent",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
		}
		prometheus.MustRegister(
			global.RunsTotal,
			global.RunsFailed,
			global.ExtractionFailures,
			global.RecordsReturned,
			global.UpstreamNon2xx,
			global.FetchDuration,
			global.RateLimited,
			global.UpdatesTotal,
		)
	})
	return global
}
