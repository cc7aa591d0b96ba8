// Command breachhunter runs the scrap lifecycle coordinator: it loads
// configuration, applies pending migrations, then starts both pipeline
// stages until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/config"
	"github.com/krystianbajno/breachhunter/internal/coordinator"
	"github.com/krystianbajno/breachhunter/internal/logging"
	"github.com/krystianbajno/breachhunter/internal/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "config.yaml", "path to the YAML configuration file")
	debug := flag.Bool("debug", false, "enable development-mode logging")
	flag.Parse()

	logger, err := logging.New(*debug)
	if err != nil {
		log.Printf("failed to initialise logger: %v", err)
		return 1
	}
	defer logger.Sync()

	printBanner()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "breachhunter")
	if err != nil {
		logger.Warn("tracing disabled: failed to initialise exporter", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	coord, err := coordinator.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build coordinator", zap.Error(err))
		return 1
	}
	defer coord.Close()

	if err := coord.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", zap.Error(err))
		return 1
	}

	logger.Info("breachhunter starting",
		zap.Bool("collecting", cfg.Collecting()),
		zap.Bool("processing", cfg.Processing()))

	if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("coordinator exited with error", zap.Error(err))
		return 1
	}

	logger.Info("breachhunter shut down gracefully")
	return 0
}

func printBanner() {
	fmt.Fprintln(os.Stdout, "breachhunter — distributed credential-breach hunter")
}
