// Package config loads and validates proxchatd's YAML configuration,
// following the same load/override/validate shape as the teacher's
// internal/config package.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flavio-simonelli/proxchat/internal/logger"
)

// FileLoggerConfig controls lumberjack file rotation when Logger.Mode == "file".
type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

// LoggerConfig mirrors the teacher's LoggerConfig.
type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

// TracingConfig controls optional OpenTelemetry tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// TelemetryConfig wraps tracing configuration.
type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WorldConfig exposes the spatial/timing constants from spec.md as
// overridable settings; defaults match the spec exactly.
type WorldConfig struct {
	IntroductionRadius  int           `yaml:"introductionRadius"`
	DisconnectionRadius int           `yaml:"disconnectionRadius"`
	SinkCapacity        int           `yaml:"sinkCapacity"`
	ClientTimeout       time.Duration `yaml:"clientTimeout"`
	SweepInterval       time.Duration `yaml:"sweepInterval"`
	IceCandidateRate    float64       `yaml:"iceCandidateRate"`
	IceCandidateBurst   int           `yaml:"iceCandidateBurst"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Bind        string `yaml:"bind"`
	WSPath      string `yaml:"wsPath"`
	HealthzPath string `yaml:"healthzPath"`
}

// Config is the root of proxchatd's configuration tree.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	World     WorldConfig     `yaml:"world"`
	Server    ServerConfig    `yaml:"server"`
}

// Default returns the configuration spec.md describes when no YAML file
// or environment override is present.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Active:   true,
			Level:    "info",
			Encoding: "json",
			Mode:     "stdout",
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{Enabled: false, Exporter: "stdout"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		World: WorldConfig{
			IntroductionRadius:  20,
			DisconnectionRadius: 25,
			SinkCapacity:        100,
			ClientTimeout:       15 * time.Second,
			SweepInterval:       5 * time.Second,
			IceCandidateRate:    20,
			IceCandidateBurst:   40,
		},
		Server: ServerConfig{
			Bind:        "0.0.0.0:8080",
			WSPath:      "/ws",
			HealthzPath: "/healthz",
		},
	}
}

// Load reads a YAML file at path on top of Default(). A missing file is
// not an error: the process runs on defaults, the way the teacher's
// flag-provided config path is optional in spirit (here it degrades to
// "use built-in defaults" rather than failing closed).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides, following the
// RUST_LOG-style convention spec.md §6 calls for plus a handful of
// deployment knobs.
//
// Supported overrides:
//
//	RUST_LOG             -> cfg.Logger.Level
//	PROXCHAT_BIND        -> cfg.Server.Bind
//	PROXCHAT_WS_PATH     -> cfg.Server.WSPath
//	PROXCHAT_METRICS     -> cfg.Metrics.Enabled
//	PROXCHAT_TRACE       -> cfg.Telemetry.Tracing.Enabled
//	PROXCHAT_TRACE_EP    -> cfg.Telemetry.Tracing.Endpoint
func (cfg *Config) ApplyEnvOverrides() {
	overrideString(&cfg.Logger.Level, "RUST_LOG")
	overrideString(&cfg.Server.Bind, "PROXCHAT_BIND")
	overrideString(&cfg.Server.WSPath, "PROXCHAT_WS_PATH")
	overrideBool(&cfg.Metrics.Enabled, "PROXCHAT_METRICS")
	overrideBool(&cfg.Telemetry.Tracing.Enabled, "PROXCHAT_TRACE")
	overrideString(&cfg.Telemetry.Tracing.Endpoint, "PROXCHAT_TRACE_EP")
}

// Validate performs structural validation of the loaded configuration.
// It checks ranges and enum-like fields; it does not second-guess
// whether the hysteresis bands make physical sense (disconnection >=
// introduction is the only semantic rule enforced, since spec.md's
// predicate relies on it).
func (cfg *Config) Validate() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logger.level: unsupported value %q", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("logger.encoding: unsupported value %q", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stdout", "file":
	default:
		errs = append(errs, fmt.Sprintf("logger.mode: unsupported value %q", cfg.Logger.Mode))
	}

	if cfg.World.IntroductionRadius <= 0 {
		errs = append(errs, "world.introductionRadius: must be positive")
	}
	if cfg.World.DisconnectionRadius < cfg.World.IntroductionRadius {
		errs = append(errs, "world.disconnectionRadius: must be >= introductionRadius")
	}
	if cfg.World.SinkCapacity <= 0 {
		errs = append(errs, "world.sinkCapacity: must be positive")
	}
	if cfg.World.ClientTimeout <= 0 {
		errs = append(errs, "world.clientTimeout: must be positive")
	}
	if cfg.World.SweepInterval <= 0 {
		errs = append(errs, "world.sweepInterval: must be positive")
	}
	if cfg.Server.Bind == "" {
		errs = append(errs, "server.bind: must not be empty")
	}
	if cfg.Server.WSPath == "" {
		errs = append(errs, "server.wsPath: must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LogConfig emits the effective configuration at debug level, mirroring
// the teacher's Config.LogConfig.
func (cfg *Config) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded configuration",
		logger.F("logger.level", cfg.Logger.Level),
		logger.F("logger.encoding", cfg.Logger.Encoding),
		logger.F("logger.mode", cfg.Logger.Mode),
		logger.F("server.bind", cfg.Server.Bind),
		logger.F("server.wsPath", cfg.Server.WSPath),
		logger.F("world.introductionRadius", cfg.World.IntroductionRadius),
		logger.F("world.disconnectionRadius", cfg.World.DisconnectionRadius),
		logger.F("world.sinkCapacity", cfg.World.SinkCapacity),
		logger.F("world.clientTimeout", cfg.World.ClientTimeout.String()),
		logger.F("world.sweepInterval", cfg.World.SweepInterval.String()),
		logger.F("metrics.enabled", cfg.Metrics.Enabled),
		logger.F("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled),
	)
}

func overrideString(field *string, env string) {
	if val := os.Getenv(env); val != "" {
		*field = val
	}
}

func overrideBool(field *bool, env string) {
	if val := os.Getenv(env); val != "" {
		switch val {
		case "1", "true", "TRUE", "True":
			*field = true
		case "0", "false", "FALSE", "False":
			*field = false
		}
	}
}
