package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hivemsg/feeds-api/internal/auth"
	"github.com/hivemsg/feeds-api/internal/bus"
	"github.com/hivemsg/feeds-api/internal/config"
	"github.com/hivemsg/feeds-api/internal/db"
	"github.com/hivemsg/feeds-api/internal/feed"
	"github.com/hivemsg/feeds-api/internal/httpapi"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "feeds-api").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(env("CONFIG_FILE", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	pool, err := db.Open(ctx, cfg.DB.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	b, err := bus.Connect(cfg.NATS.Endpoint, cfg.NATS.Stream)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer b.Close()

	// Wiring: repo -> service -> consumers/processor/read API. All
	// cross-root coordination goes through the database.
	repo := feed.NewRepo(pool, cfg.Feeds.Processing.VisibilityTimeout())
	svc := feed.NewService(repo, cfg.Feeds.Limits.User)
	consumer := feed.NewConsumer(b, svc, log.With().Str("component", "consumer").Logger())
	processor := feed.NewProcessor(
		repo, svc,
		cfg.Feeds.Processing.BatchSize,
		cfg.Feeds.Processing.Interval(),
		log.With().Str("component", "processor").Logger(),
	)

	srv := &httpapi.Server{DB: pool, Feeds: svc}
	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.Auth.HS256Secret,
		DevMode:     cfg.Auth.DevMode,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Fail-fast join: a failure in any root takes the process down.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.RunMessages(gctx, cfg.Feeds.Messaging.Message)
	})
	g.Go(func() error {
		return consumer.RunTopicUsers(gctx, cfg.Feeds.Messaging.TopicUser)
	})
	g.Go(func() error {
		return processor.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("service failed")
	}

	log.Info().Msg("server stopped")
}
