package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"globiagent/internal/agent"
	"globiagent/internal/config"
	"globiagent/internal/extractor"
	"globiagent/internal/globi"
	"globiagent/internal/interactiontype"
	"globiagent/internal/metrics"
	"globiagent/internal/providers/openai_compat"
	"globiagent/internal/storage"
)

// app holds the process-wide components. The interaction type registry is
// loaded once here and never refreshed.
type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	globi   *globi.Client
	types   *interactiontype.Registry
	agent   *agent.Agent

	// store and redis are nil when their integration is disabled.
	store *storage.Store
	redis *redis.Client
}

type appOptions struct {
	withModel bool
	withTypes bool
	withStore bool
	withRedis bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.Global()}
	httpClient := &http.Client{Timeout: cfg.HTTP.ClientTimeout}

	a.globi = globi.New(globi.Config{
		BaseURL:    cfg.Globi.BaseURL,
		HTTPClient: httpClient,
		Logger:     log.Logger.With().Str("component", "globi").Logger(),
		Metrics:    a.metrics,
	})

	if opts.withTypes || opts.withModel {
		values, err := a.globi.InteractionTypes(ctx)
		if err != nil {
			return nil, fmt.Errorf("load interaction types: %w", err)
		}
		a.types, err = interactiontype.New(values)
		if err != nil {
			return nil, fmt.Errorf("build interaction type registry: %w", err)
		}
		log.Info().Int("count", a.types.Len()).Msg("interaction types loaded")
	}

	if opts.withStore && cfg.DB.DSN != "" {
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
		if err != nil {
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		a.store = store
	}

	if opts.withRedis && cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rdb
	}

	if opts.withModel {
		provider := openai_compat.New(openai_compat.Config{
			BaseURL:     cfg.OpenAI.BaseURL,
			APIKey:      cfg.OpenAI.APIKey,
			HTTPClient:  httpClient,
			MaxAttempts: cfg.OpenAI.ExtractionAttempts,
			BackoffBase: cfg.OpenAI.BackoffBase,
			Logger:      log.Logger.With().Str("component", "openai").Logger(),
		})
		ex := extractor.New(extractor.Config{
			Provider: provider,
			Types:    a.types,
			Model:    cfg.OpenAI.Model,
			Logger:   log.Logger.With().Str("component", "extractor").Logger(),
		})
		agentCfg := agent.Config{
			Extractor: ex,
			Fetcher:   a.globi,
			PublicURL: cfg.Server.PublicURL,
			Logger:    log.Logger.With().Str("component", "agent").Logger(),
			Metrics:   a.metrics,
		}
		if a.store != nil {
			agentCfg.Recorder = a.store
		}
		a.agent = agent.New(agentCfg)
	}

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}
}
