// cmd/client/main.go
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtline/internal/config"
	"github.com/codr1/courtline/internal/invoke"
	"github.com/codr1/courtline/internal/transport"
)

func configPath() string {
	if path := os.Getenv("COURTLINE_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	serverAddr, err := net.ResolveUDPAddr("udp", cfg.Client.ServerAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Client.ServerAddr).Msg("Failed to resolve server address")
	}

	pc, err := net.ListenPacket("udp", ":0")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to bind client socket")
	}
	conn := transport.New(pc, transport.Config{
		DropRate:      cfg.Transport.DropRate,
		DuplicateRate: cfg.Transport.DuplicateRate,
	})

	client := invoke.NewClient(conn, serverAddr, invoke.Config{
		Timeout:    cfg.Client.RetryTimeout(),
		MaxRetries: cfg.Client.MaxRetries,
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("server", cfg.Client.ServerAddr).
		Uint64("client_id", client.ClientID()).
		Msg("Facility booking client ready")

	runREPL(ctx, client)
}
