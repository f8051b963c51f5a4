// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/codr1/courtline/internal/booking"
	"github.com/codr1/courtline/internal/config"
	"github.com/codr1/courtline/internal/monitor"
	"github.com/codr1/courtline/internal/scheduler"
	"github.com/codr1/courtline/internal/server"
	"github.com/codr1/courtline/internal/transport"
)

const monitorPurgeInterval = 30 * time.Second

func configPath() string {
	if path := os.Getenv("COURTLINE_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg)

	pc, err := net.ListenPacket("udp", cfg.Server.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Server.ListenAddr).Msg("Failed to bind UDP socket")
	}
	conn := transport.New(pc, transport.Config{
		DropRate:      cfg.Transport.DropRate,
		DuplicateRate: cfg.Transport.DuplicateRate,
	})

	registry := monitor.NewRegistry(conn, nil)
	engine := booking.NewEngine(cfg.Facilities, registry)

	var cache *server.DedupCache
	if cfg.Server.ReplyCache.Enabled {
		cache = server.NewDedupCache(cfg.Server.ReplyCache.Retention(), nil)
	}

	srv := server.New(conn, engine, registry, cache, cfg.Server.Workers)

	sched, err := scheduler.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	if cache != nil {
		if _, err := sched.AddCronJob("reply_cache_purge", cfg.Server.ReplyCache.PurgeCron, func() {
			cache.Purge()
		}); err != nil {
			log.Fatal().Err(err).Msg("Failed to register reply cache purge job")
		}
	}
	if _, err := sched.AddIntervalJob("monitor_purge", monitorPurgeInterval, func() {
		registry.Purge()
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register monitor purge job")
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error().Err(err).Msg("Scheduler shutdown failed")
		}
	}()

	opsServer := newOpsServer(cfg.Server.OpsPort)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("addr", cfg.Server.ListenAddr).
			Strs("facilities", cfg.Facilities).
			Float64("drop_rate", cfg.Transport.DropRate).
			Float64("duplicate_rate", cfg.Transport.DuplicateRate).
			Msg("Starting booking server")
		return srv.Run(ctx)
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.OpsPort).Msg("Starting ops server")
		if err := opsServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("ops server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info().Msg("Shutting down")
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server terminated with error")
		os.Exit(1)
	}
}
