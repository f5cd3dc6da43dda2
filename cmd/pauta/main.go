package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/npjlab/pauta/adapter/cli"
	"github.com/npjlab/pauta/internal/app"
	"github.com/npjlab/pauta/pkg/config"
	"github.com/npjlab/pauta/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		// Commands that need the container print guidance themselves.
		logger.Warn("application not fully wired", "error", err)
	}
	if container != nil {
		defer container.Close()
	}

	cli.SetLogger(logger)
	cli.SetContainer(container)
	cli.Execute(ctx)
}
