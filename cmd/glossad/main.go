// Package main provides the glossa worker daemon entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/glossa/internal/config"
	"github.com/thebtf/glossa/internal/providers"
	"github.com/thebtf/glossa/internal/vocab"
	"github.com/thebtf/glossa/internal/worker"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	store, err := vocab.Open(cfg.VocabPath())
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.VocabPath()).Msg("Failed to open vocabulary database")
	}
	defer store.Close()

	registry, err := providers.Load(config.ProvidersPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load provider registry")
	}

	// Hot-reload settings on change; the next run picks up new credentials.
	watcher, err := config.NewWatcher(func(c *config.Config) {
		log.Info().Str("service", c.TranslationService).Msg("Settings reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable, edits require restart")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start settings watcher")
		} else {
			defer watcher.Stop()
		}
	}

	srv := worker.NewServer(store, registry)
	port := config.GetWorkerPort()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	}()

	log.Info().Int("port", port).Str("version", Version).Msg("Starting glossa worker")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Server stopped")
}
