package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/me/wdist/internal/config"
	"github.com/me/wdist/internal/logging"
	"github.com/me/wdist/internal/worker"
)

func main() {
	defaults := config.DefaultWorkerConfig()

	configFile := flag.String("config", "", "Path to a YAML config file")
	coordinator := flag.String("coordinator", defaults.Coordinator, "Coordinator host:port")
	name := flag.String("name", defaults.Name, "Worker name (default: hostname)")
	heartbeat := flag.Duration("heartbeat", defaults.HeartbeatInterval, "Heartbeat interval")
	timeout := flag.Duration("command-timeout", defaults.CommandTimeout, "Per-command time limit")
	shell := flag.String("shell", defaults.Shell, "Shell used to run commands (invoked with -c)")
	reconnect := flag.Duration("reconnect", defaults.ReconnectDelay, "Delay before reconnecting (0 exits on disconnect)")
	logLevel := flag.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", defaults.LogFormat, "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	cfg, err := config.LoadWorker(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "coordinator":
			cfg.Coordinator = *coordinator
		case "name":
			cfg.Name = *name
		case "heartbeat":
			cfg.HeartbeatInterval = *heartbeat
		case "command-timeout":
			cfg.CommandTimeout = *timeout
		case "shell":
			cfg.Shell = *shell
		case "reconnect":
			cfg.ReconnectDelay = *reconnect
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

	w, err := worker.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
