package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/wdist/internal/config"
	"github.com/me/wdist/internal/coordinator"
	"github.com/me/wdist/internal/logging"
)

func main() {
	defaults := config.DefaultCoordinatorConfig()

	configFile := flag.String("config", "", "Path to a YAML config file")
	listen := flag.String("listen", defaults.Listen, "TCP address for workers and admin callers")
	httpAddr := flag.String("http-addr", defaults.HTTPAddr, "HTTP API address (empty disables)")
	dbPath := flag.String("db", defaults.DBPath, "Task history database path (empty disables)")
	interval := flag.Duration("interval", defaults.Scheduler.Interval, "Scheduling loop interval")
	livenessTimeout := flag.Duration("liveness-timeout", defaults.Liveness.Timeout, "Demote workers silent for longer than this")
	autoStart := flag.Bool("auto-start", defaults.AutoStart, "Accept submissions immediately on startup")
	logLevel := flag.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", defaults.LogFormat, "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.LoadCoordinator(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "db":
			cfg.DBPath = *dbPath
		case "interval":
			cfg.Scheduler.Interval = *interval
		case "liveness-timeout":
			cfg.Liveness.Timeout = *livenessTimeout
		case "auto-start":
			cfg.AutoStart = *autoStart
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	c, err := coordinator.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := c.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "coordinator: %v\n", err)
		os.Exit(1)
	}
	logger.Info("coordinator exited", "uptime", time.Since(start).Round(time.Second))
}
