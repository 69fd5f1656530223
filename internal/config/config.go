// Package config holds the configuration of the coordinator and the worker
// agent. Values start from defaults, are overridden by an optional YAML
// file and finally by command-line flags in the binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/me/wdist/internal/logging"
	"gopkg.in/yaml.v3"
)

// CoordinatorConfig holds configuration for the coordinator process.
type CoordinatorConfig struct {
	Listen       string        `yaml:"listen"`        // TCP address for workers and admin callers (default ":8080")
	HTTPAddr     string        `yaml:"http_addr"`     // HTTP API address (default ":8081", empty disables)
	WriteTimeout time.Duration `yaml:"write_timeout"` // Per-frame write deadline
	LogLevel     string        `yaml:"log_level"`     // debug, info, warn, error
	LogFormat    string        `yaml:"log_format"`    // text, json
	DBPath       string        `yaml:"db_path"`       // Task history database (empty disables, ":memory:" for testing)
	AutoStart    bool          `yaml:"auto_start"`    // Accept submissions immediately on startup

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Liveness  LivenessConfig  `yaml:"liveness"`
}

// SchedulerConfig controls the dispatch loop.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LivenessConfig controls heartbeat-based failure detection.
type LivenessConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // expected worker heartbeat period
}

// WorkerConfig holds configuration for the worker agent.
type WorkerConfig struct {
	Coordinator       string        `yaml:"coordinator"`        // host:port of the coordinator
	Name              string        `yaml:"name"`               // display name (default hostname)
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // HEARTBEAT period
	CommandTimeout    time.Duration `yaml:"command_timeout"`    // per-command limit
	Shell             string        `yaml:"shell"`              // interpreter invoked with -c
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`    // wait before redialing (0 exits on disconnect)
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Listen:       ":8080",
		HTTPAddr:     ":8081",
		WriteTimeout: 10 * time.Second,
		LogLevel:     "info",
		LogFormat:    logging.FormatText,
		AutoStart:    true,
		Scheduler: SchedulerConfig{
			Interval: 2 * time.Second,
		},
		Liveness: LivenessConfig{
			Interval:          20 * time.Second,
			Timeout:           30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
	}
}

// DefaultWorkerConfig returns sensible defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Coordinator:       "localhost:8080",
		HeartbeatInterval: 10 * time.Second,
		CommandTimeout:    5 * time.Minute,
		Shell:             "/bin/sh",
		ReconnectDelay:    5 * time.Second,
		LogLevel:          "info",
		LogFormat:         logging.FormatText,
	}
}

// Validate reports every problem with the configuration.
func (c CoordinatorConfig) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("write_timeout must not be negative"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Liveness.Interval <= 0 {
		errs = append(errs, errors.New("liveness.interval must be positive"))
	}
	if c.Liveness.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("liveness.heartbeat_interval must be positive"))
	}
	if c.Liveness.Timeout <= c.Liveness.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("liveness.timeout (%s) must exceed heartbeat_interval (%s)",
			c.Liveness.Timeout, c.Liveness.HeartbeatInterval))
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate reports every problem with the configuration.
func (c WorkerConfig) Validate() error {
	var errs []error
	if c.Coordinator == "" {
		errs = append(errs, errors.New("coordinator address is empty"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command_timeout must be positive"))
	}
	if c.Shell == "" {
		errs = append(errs, errors.New("shell is empty"))
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, errors.New("reconnect_delay must not be negative"))
	}
	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadCoordinator returns the defaults overridden by the YAML file at path.
// An empty path returns the defaults.
func LoadCoordinator(path string) (CoordinatorConfig, error) {
	cfg := DefaultCoordinatorConfig()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWorker returns the defaults overridden by the YAML file at path.
// An empty path returns the defaults.
func LoadWorker(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return decode(data, out)
}

// decode unmarshals YAML strictly: unknown keys are an error.
func decode(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
