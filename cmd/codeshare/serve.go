package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/codeshare/internal/config"
	"github.com/michaelbrown/codeshare/internal/discovery"
	"github.com/michaelbrown/codeshare/internal/metrics"
	"github.com/michaelbrown/codeshare/internal/relay"
	"github.com/michaelbrown/codeshare/internal/server"
	"github.com/michaelbrown/codeshare/internal/storage"
	"github.com/michaelbrown/codeshare/internal/storage/postgres"
	"github.com/michaelbrown/codeshare/internal/storage/sqlite"
)

var (
	portFlag     int
	announceFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the room service and relay",
	Long: `Start the codeshare HTTP server: POST /create_room, the /ws/{room_id} relay,
the /api/rooms registry and /metrics.

Examples:
  codeshare serve
  codeshare serve --port 9090 --announce`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&announceFlag, "announce", false, "Announce the relay over mDNS (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	broker, err := openBroker(ctx, cfg.Relay, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	m := metrics.New()
	hub := relay.NewHub(broker, m, logger)
	defer hub.Close()

	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	srv := server.New(cfg.Server, store, hub, m, logger)

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}

	if announceFlag || cfg.Discovery.Enabled {
		port := ln.Addr().(*net.TCPAddr).Port
		ann, err := discovery.Announce(cfg.Discovery.Instance, port, logger)
		if err != nil {
			logger.Warn("mDNS announcement failed", zap.Error(err))
		} else {
			defer ann.Shutdown()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func openBroker(ctx context.Context, cfg config.RelayConfig, logger *zap.Logger) (relay.Broker, error) {
	switch cfg.Broker {
	case "", "memory":
		return relay.NewMemoryBroker(), nil
	case "redis":
		broker, err := relay.NewRedisBroker(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return broker, nil
	}
	return nil, fmt.Errorf("unknown relay broker %q", cfg.Broker)
}
