// Package config provides configuration loading for orchd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and hardcoded defaults. See Load for precedence rules.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete orchd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Store     StoreConfig     `koanf:"store"`
	Gate      GateConfig      `koanf:"gate"`
	Budget    BudgetConfig    `koanf:"budget"`
	Conflict  ConflictConfig  `koanf:"conflict"`
	Worker    WorkerConfig    `koanf:"worker"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds the HTTP status server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig holds the root of all durable orchestration state.
type StoreConfig struct {
	// BaseDir is the root directory for plans, gate records, the
	// artifact registry, conflicts, and handoff packages.
	// Default: ~/.local/share/orchd
	BaseDir string `koanf:"base_dir"`
}

// GateConfig holds gate validation configuration.
type GateConfig struct {
	// MaxAttempts is the validation retry budget per step before the
	// step is routed to a fallback role.
	MaxAttempts int `koanf:"max_attempts"`

	// PassThreshold is the minimum rubric score for a clean pass.
	PassThreshold float64 `koanf:"pass_threshold"`

	// WarnThreshold is the minimum rubric score for pass-with-warnings.
	WarnThreshold float64 `koanf:"warn_threshold"`
}

// BudgetConfig holds context budget thresholds.
//
// The warning and handoff fractions are configurable rather than
// hard-coded; deployments disagree on the exact SLA.
type BudgetConfig struct {
	// Ceiling is the total resource budget (tokens) per orchestrator
	// instance.
	Ceiling int64 `koanf:"ceiling"`

	// WarnFraction of the ceiling at which a warning is emitted.
	WarnFraction float64 `koanf:"warn_fraction"`

	// HandoffFraction of the ceiling at which handoff becomes mandatory.
	HandoffFraction float64 `koanf:"handoff_fraction"`
}

// ConflictConfig holds conflict resolution configuration.
type ConflictConfig struct {
	// ConsensusTimeout bounds cross-domain consensus resolution before
	// the conflict escalates to the operator queue.
	ConsensusTimeout time.Duration `koanf:"consensus_timeout"`
}

// WorkerConfig holds worker dispatch configuration.
type WorkerConfig struct {
	// MaxParallel caps concurrently dispatched steps. Zero means no cap.
	MaxParallel int `koanf:"max_parallel"`

	// InvokeTimeout bounds a single worker invocation.
	InvokeTimeout time.Duration `koanf:"invoke_timeout"`

	// Command is the external agent process invoked for every role.
	// The role name is appended as the final argument; the request
	// arrives on stdin as JSON. Empty means no external workers.
	Command []string `koanf:"command"`
}

// TelemetryConfig holds OpenTelemetry OTLP export configuration.
// Disabled by default; the otel globals stay no-ops until enabled.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`

	// Protocol selects the OTLP transport: "grpc" or "http/protobuf".
	Protocol string `koanf:"protocol"`

	Insecure bool `koanf:"insecure"`

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64 `koanf:"sampling_rate"`

	ExportInterval time.Duration `koanf:"export_interval"`
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Gate.MaxAttempts < 1 {
		return errors.New("gate.max_attempts must be at least 1")
	}
	if c.Gate.WarnThreshold > c.Gate.PassThreshold {
		return fmt.Errorf("gate.warn_threshold %.1f exceeds gate.pass_threshold %.1f",
			c.Gate.WarnThreshold, c.Gate.PassThreshold)
	}
	if c.Budget.Ceiling <= 0 {
		return errors.New("budget.ceiling must be positive")
	}
	if c.Budget.WarnFraction <= 0 || c.Budget.WarnFraction >= 1 {
		return fmt.Errorf("budget.warn_fraction must be in (0,1): %v", c.Budget.WarnFraction)
	}
	if c.Budget.HandoffFraction <= c.Budget.WarnFraction || c.Budget.HandoffFraction > 1 {
		return fmt.Errorf("budget.handoff_fraction must be in (warn_fraction, 1]: %v", c.Budget.HandoffFraction)
	}
	if c.Conflict.ConsensusTimeout <= 0 {
		return errors.New("conflict.consensus_timeout must be positive")
	}
	if c.Worker.MaxParallel < 0 {
		return errors.New("worker.max_parallel cannot be negative")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf: %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be in [0,1]: %v", c.Telemetry.SamplingRate)
		}
	}
	return nil
}

// Default returns configuration with production-ready defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9272,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			BaseDir: "", // resolved to ~/.local/share/orchd by Load
		},
		Gate: GateConfig{
			MaxAttempts:   3,
			PassThreshold: 7.0,
			WarnThreshold: 4.0,
		},
		Budget: BudgetConfig{
			Ceiling:         200_000,
			WarnFraction:    0.75,
			HandoffFraction: 0.90,
		},
		Conflict: ConflictConfig{
			ConsensusTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			MaxParallel:   4,
			InvokeTimeout: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			SamplingRate:   1.0,
			ExportInterval: 30 * time.Second,
		},
	}
}
