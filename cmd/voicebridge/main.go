package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/leaseline/voicebridge/pkg/bridge/config"
	"github.com/leaseline/voicebridge/pkg/bridge/server"
)

type deps struct {
	loadConfig func() (config.Config, error)
	newServer  func(config.Config, *slog.Logger) (*server.Server, error)
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.LoadFromEnv,
		newServer:  server.New,
	}
}

func run(ctx context.Context, logger *slog.Logger, d deps) error {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := d.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, err := d.newServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	logger.Info("starting voice bridge", "addr", cfg.Addr, "store", cfg.StoreDriver)
	return srv.Run(ctx)
}

func runMain(ctx context.Context, stderr io.Writer, d deps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	_ = godotenv.Load()

	if err := run(ctx, logger, d); err != nil {
		fmt.Fprintf(stderr, "voicebridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(runMain(ctx, os.Stderr, defaultDeps()))
}
