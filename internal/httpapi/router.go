// Package httpapi exposes the agent over HTTP: the agent card, a streaming
// run endpoint and a few operational routes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"globiagent/internal/agent"
	"globiagent/internal/interactiontype"
	"globiagent/internal/limiter"
	"globiagent/internal/metrics"
	"globiagent/internal/storage"
)

const (
	defaultMaxRequestBodyBytes = 64 << 10
	defaultRunsLimit           = 20
	maxRunsLimit               = 200
)

type Runner interface {
	Card() agent.Card
	Run(ctx context.Context, request, entrypoint string, sink agent.EventSink) error
}

type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
}

type Options struct {
	Agent Runner
	Types *interactiontype.Registry
	// Runs and Limiter are optional.
	Runs    RunLister
	Limiter *limiter.RateLimiter

	HealthPath          string
	MetricsPath         string
	MaxRequestBodyBytes int64
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// friends. Only enable it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	// Logger is the request logger built with httplog.NewLogger.
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type handlers struct {
	agent   Runner
	types   *interactiontype.Registry
	runs    RunLister
	limiter *limiter.RateLimiter
	maxBody int64
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRouter(opts Options) http.Handler {
	if opts.HealthPath == "" {
		opts.HealthPath = "/healthz"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.MaxRequestBodyBytes <= 0 {
		opts.MaxRequestBodyBytes = defaultMaxRequestBodyBytes
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	h := &handlers{
		agent:   opts.Agent,
		types:   opts.Types,
		runs:    opts.Runs,
		limiter: opts.Limiter,
		maxBody: opts.MaxRequestBodyBytes,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(httplog.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	r.Get(opts.HealthPath, h.handleHealth)
	r.Method(http.MethodGet, opts.MetricsPath, promhttp.Handler())

	r.Get("/.well-known/agent.json", h.handleCard)
	r.Get("/interaction-types", h.handleInteractionTypes)
	r.Get("/runs", h.handleRuns)
	r.With(h.rateLimit).Post("/run", h.handleRun)
	return r
}
