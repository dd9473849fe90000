package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/cinesuggest/internal/ai"
	"github.com/kdimtricp/cinesuggest/internal/api"
	"github.com/kdimtricp/cinesuggest/internal/config"
	"github.com/kdimtricp/cinesuggest/internal/database"
	"github.com/kdimtricp/cinesuggest/internal/feed"
	"github.com/kdimtricp/cinesuggest/internal/httpx"
	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/poster"
	"github.com/kdimtricp/cinesuggest/internal/recommend"
	"github.com/kdimtricp/cinesuggest/internal/search"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.Logger()
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.Component("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	if _, err := database.NewMigrator(db).Run(ctx, cfg.Database.MigrationsPath); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.MigrationsPath).Msg("failed to run migrations")
	}
	store := database.NewStore(db)

	completer, err := ai.NewCompleter(ai.ConfigFrom(cfg.Completion), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize completion client")
	}

	lookup, err := search.NewLookup(cfg.Metadata, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metadata lookup")
	}

	feedClient := feed.NewClient(cfg.Feed.BaseURL, httpx.NewClient(cfg.Feed.Timeout, 0))

	svc := recommend.NewService(
		feedClient,
		store,
		recommend.NewPipeline(store, completer, cfg.Completion.Instruction),
		poster.NewResolver(store, lookup, cfg.Metadata.ResolveTimeout),
	)
	if ttl := cfg.Server.BrowserIdleTTL; ttl > 0 {
		go svc.RunEviction(ctx, ttl/2, ttl)
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("no JWT secret configured, trusting the " + api.UserIDHeader + " header")
	}

	router := api.NewRouter(
		api.NewHandlers(svc),
		api.NewAuthenticator(cfg.Auth.JWTSecret),
		api.RouterConfig{GenerateRateLimit: cfg.Server.GenerateRateLimit},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("db_type", cfg.Database.Type).
			Str("completion", cfg.Completion.Provider).
			Str("metadata", cfg.Metadata.Provider).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
