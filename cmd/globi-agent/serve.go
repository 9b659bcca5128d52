package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"globiagent/internal/config"
	"globiagent/internal/httpapi"
	"globiagent/internal/limiter"
	"globiagent/internal/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent over HTTP and, when BOT_TOKEN is set, telegram",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogger(cfg.Log.Level, os.Stdout)
	requestLogger := newRequestLogger(cfg.Log.Level)
	log.Info().
		Str("env", cfg.AppEnv).
		Str("model", cfg.OpenAI.Model).
		Str("globi", cfg.Globi.BaseURL).
		Bool("redis", cfg.Redis.Addr != "").
		Bool("audit", cfg.DB.DSN != "").
		Bool("telegram", cfg.Telegram.BotToken != "").
		Msg("starting globi-agent")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withModel: true, withTypes: true, withStore: true, withRedis: true})
	if err != nil {
		return err
	}
	defer a.Close()

	var rateLimiter *limiter.RateLimiter
	if a.redis != nil {
		rateLimiter = limiter.NewRateLimiter(a.redis, cfg.Rate.PerHour)
	}

	routerOpts := httpapi.Options{
		Agent:       a.agent,
		Types:       a.types,
		Limiter:     rateLimiter,
		HealthPath:  cfg.Server.HealthPath,
		MetricsPath: cfg.Server.MetricsPath,
		Logger:      requestLogger,
		Metrics:     a.metrics,

		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	}
	if a.store != nil {
		routerOpts.Runs = a.store
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           httpapi.NewRouter(routerOpts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to stop http server")
		}
		return nil
	})

	if cfg.Telegram.BotToken != "" {
		updater, err := startTelegram(cfg, a, rateLimiter)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			if err := updater.Stop(); err != nil {
				log.Error().Err(err).Msg("failed to stop updater")
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info().Msg("stopped")
	return err
}

func startTelegram(cfg *config.Config, a *app, rateLimiter *limiter.RateLimiter) (*ext.Updater, error) {
	bot, err := gotgbot.NewBot(cfg.Telegram.BotToken, nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %s", sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}

	processor := telegram.Processor{
		Metrics: a.metrics,
		Logger:  log.Logger,
	}
	if a.redis != nil {
		processor.Dedupe = limiter.NewUpdateDeduplicator(a.redis, cfg.Redis.UpdateTTL)
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      50,
		UnhandledErrFunc: logTelegramErr,
		Processor:        processor,
	})
	telegram.NewService(telegram.Config{
		Agent:       a.agent,
		Types:       a.types,
		RateLimiter: rateLimiter,
		Logger:      log.Logger.With().Str("component", "telegram").Logger(),
		Metrics:     a.metrics,
	}).Register(dispatcher)

	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("start polling: %s", sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}
	log.Info().Msg("telegram polling started")
	return updater, nil
}
