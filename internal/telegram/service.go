package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/rs/zerolog"

	"globiagent/internal/agent"
	"globiagent/internal/interactiontype"
	"globiagent/internal/limiter"
	"globiagent/internal/metrics"
)

type Runner interface {
	Run(ctx context.Context, request, entrypoint string, sink agent.EventSink) error
}

type Service struct {
	agent       Runner
	types       *interactiontype.Registry
	rateLimiter *limiter.RateLimiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	runTimeout  time.Duration
}

type Config struct {
	Agent Runner
	Types *interactiontype.Registry
	// RateLimiter is optional.
	RateLimiter *limiter.RateLimiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	RunTimeout  time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	return &Service{
		agent:       cfg.Agent,
		types:       cfg.Types,
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger,
		metrics:     m,
		runTimeout:  cfg.RunTimeout,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("types", s.listTypes))
	d.AddHandler(handlers.NewCommand("interactions", s.interactions))
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}
