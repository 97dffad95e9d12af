package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"sar/internal/config"
	"sar/internal/logging"
	"sar/internal/server"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to configuration file")
	showVersion := pflag.Bool("version", false, "Print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log, "sar")
	log.WithField("version", version).Info("=== SAR: System Authorization Review ===")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, cfg, version, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
