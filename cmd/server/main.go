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

	"sketchparty/internal/config"
	"sketchparty/internal/db"
	"sketchparty/internal/game"
	"sketchparty/internal/server"
	"sketchparty/internal/statesync"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg := config.Load()

	// Rooms live in memory unless a database is configured; the server then
	// fronts the same rows other participants use.
	var store statesync.RemoteStore
	if cfg.DatabaseURL != "" && config.IsPlaceholderDSN(cfg.DatabaseURL) {
		log.Warn().Msg("DATABASE_URL looks like a placeholder; keeping rooms in memory")
	} else if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL, db.PoolFromConfig(cfg), false)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := db.Migrate(conn); err != nil {
			log.Fatal().Err(err).Msg("database migration failed")
		}
		store = statesync.NewPostgresStore(conn, cfg.DatabaseURL)
	}

	opts := []server.Option{}
	if cfg.WordBankPath != "" {
		words, err := game.LoadWordBank(cfg.WordBankPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.WordBankPath).Msg("failed to load word bank")
		}
		opts = append(opts, server.WithWordBank(words))
	}

	srv := server.New(store, cfg, opts...)
	defer srv.Close()
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", httpServer.Addr).
		Bool("database", store != nil).
		Str("public_url", cfg.PublicURL).
		Msg("sketchparty server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
