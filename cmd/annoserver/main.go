// Package main provides the entry point for the reference annotation server.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/di"
	"github.com/listenupapp/listenup-sync/internal/logger"
)

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.Env, "env", "", "environment (development|staging|production)")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to a .env file")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flag.StringVar(&overrides.DataPath, "data", "", "data directory holding the token signing key")
	flag.StringVar(&overrides.ServerAddr, "addr", "", "listen address")
	flag.StringVar(&overrides.PatronsPath, "patrons", "", "patrons YAML file")
	flag.StringVar(&overrides.MetricsAddr, "metrics-addr", "", "/metrics listen address")
	flag.Parse()

	// Create DI container
	injector := di.NewServerContainer(overrides)

	// Bootstrap all services
	if err := di.BootstrapServer(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")

	// The DI container shuts services down in reverse dependency order.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("See you space cowboy...")
}
