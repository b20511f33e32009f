// Command tower runs the 24/7 single-station MP3 broadcaster: it loads
// configuration, wires every collaborator via internal/runtime, and serves
// until an interrupt or terminate signal asks it to shut down.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"tower/internal/config"
	"tower/internal/runtime"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML configuration file")
	listenAddr := pflag.String("listen", "", "override http.listen_addr from the config file")
	logLevel := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.HTTPListenAddr = *listenAddr
	}

	sys, err := runtime.Build(cfg, log)
	if err != nil {
		log.Error("failed to build tower", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = sys.Start(ctx)
	sys.Stop()

	if err != nil {
		log.Error("tower stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
