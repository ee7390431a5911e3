// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"research-client/internal/config"
	"research-client/internal/domain/ports/adapter"
	"research-client/internal/domain/ports/repository"
	"research-client/internal/infra/adapters/catalog"
	"research-client/internal/infra/adapters/research"
	tele "research-client/internal/infra/adapters/telegram"
	"research-client/internal/infra/api"
	"research-client/internal/infra/eventbus"
	"research-client/internal/infra/logging"
	"research-client/internal/infra/memstore"
	"research-client/internal/infra/metrics"
	red "research-client/internal/infra/redis"
	"research-client/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop telegram)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Store ----
	var (
		store       repository.KeyValueStore
		redisClient red.RedisClient
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		redisClient = rc
		store = red.NewStore(rc, cfg.Redis.Prefix)
		logger.Info().Str("prefix", cfg.Redis.Prefix).Msg("job store: redis")
	} else {
		store = memstore.New()
		logger.Info().Msg("job store: memory")
	}

	// ---- Remote service ----
	var (
		svc     adapter.ResearchService
		refresh adapter.CatalogRefresher
		reader  api.CatalogReader
	)
	if cfg.Jobs.Live {
		tokens, err := research.NewTokenCache(cfg.Remote.BaseURL, cfg.Remote.APIKey,
			cfg.Remote.TokenLifetime, cfg.Remote.TokenSkew,
			&http.Client{Timeout: cfg.Remote.Timeout}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("token cache")
		}
		client, err := research.NewClient(cfg.Remote.BaseURL, tokens, cfg.Remote.Timeout, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("research client")
		}
		svc = research.NewLimitedService(client, cfg.Remote.ConcurrentLimit)
		cat := catalog.NewRefresher(client, store, logger)
		refresh, reader = cat, cat
		logger.Info().
			Str("base_url", cfg.Remote.BaseURL).
			Str("api_key", logging.Redact(cfg.Remote.APIKey, cfg.Runtime.Dev)).
			Int("concurrent_limit", cfg.Remote.ConcurrentLimit).
			Msg("live mode")
	} else {
		logger.Info().Msg("demo mode: no remote calls")
	}

	bus := eventbus.New(logger)

	// ---- Telegram notifications (attached before Restore sees interrupted jobs) ----
	var notifier *tele.Notifier
	if cfg.Telegram.Token != "" || cfg.Telegram.ChatID != 0 {
		var sender tele.Sender
		if cfg.Runtime.Dev || cfg.Telegram.Token == "" {
			sender = tele.NewNoopSender(logger)
		} else {
			bot, err := tele.NewBotSender(cfg.Telegram.Token)
			if err != nil {
				logger.Fatal().Err(err).Msg("telegram")
			}
			sender = bot
		}
		notifier = tele.NewNotifier(sender, cfg.Telegram.ChatID, logger)
		defer notifier.Attach(bus)()
		go notifier.Run(ctx)
	}

	// ---- Use cases ----
	tracker, err := usecase.NewJobTracker(svc, bus, store, refresh, cfg.Jobs, cfg.Remote, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("job tracker")
	}
	if err := tracker.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("restore jobs")
	}
	chat, err := usecase.NewChatSession(svc, bus, cfg.Chat, cfg.Remote, cfg.Jobs.Live, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("chat session")
	}

	// ---- Control API ----
	srv := api.NewServer(tracker, chat, reader, cfg.HTTP.APIKey, logger)
	go func() {
		if err := srv.ListenAndServe(cfg.HTTP.Port); err != nil {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	chat.Close()
	tracker.Close()
	if notifier != nil {
		<-notifier.Done()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info().Msg("bye")
}
