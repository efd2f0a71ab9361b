// Package loadtest implements a scriptable multi-client load generator
// for proxchatd, grounded on the teacher's internal/client/tester
// package: a YAML-loaded Config, a ticker-driven Tester that fans work
// out across simulated clients, and a CSV writer recording outcomes.
package loadtest

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulationConfig bounds how long the run lasts.
type SimulationConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// TargetConfig names the proxchatd instance under test.
type TargetConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// MovementConfig controls the synthetic random-walk each simulated
// client performs.
type MovementConfig struct {
	MapID        int           `yaml:"mapId"`
	Channel      int           `yaml:"channel"`
	GameID       int           `yaml:"gameId"`
	BoundsWidth  int           `yaml:"boundsWidth"`
	BoundsHeight int           `yaml:"boundsHeight"`
	StepSize     int           `yaml:"stepSize"`
	UpdateRate   time.Duration `yaml:"updateRate"`
}

// ClientsConfig controls the population of simulated clients.
type ClientsConfig struct {
	Count       int           `yaml:"count"`
	SpawnJitter time.Duration `yaml:"spawnJitter"`
}

// CSVConfig controls whether and where results are recorded.
type CSVConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the root of the load tester's configuration tree.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Target     TargetConfig     `yaml:"target"`
	Movement   MovementConfig   `yaml:"movement"`
	Clients    ClientsConfig    `yaml:"clients"`
	CSV        CSVConfig        `yaml:"csv"`
}

// Default returns sane defaults for a quick local run.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{Duration: 60 * time.Second},
		Target:     TargetConfig{Addr: "127.0.0.1:8080", Path: "/ws"},
		Movement: MovementConfig{
			MapID:        1,
			Channel:      1,
			GameID:       1,
			BoundsWidth:  200,
			BoundsHeight: 200,
			StepSize:     5,
			UpdateRate:   2 * time.Second,
		},
		Clients: ClientsConfig{Count: 10, SpawnJitter: 500 * time.Millisecond},
		CSV:     CSVConfig{Enabled: true, Path: "loadtest_results.csv"},
	}
}

// Load reads a YAML file at path on top of Default(). A missing file is
// not an error: the run proceeds on defaults.
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

// ApplyEnvOverrides overrides a handful of knobs useful for CI/scripted
// runs without editing the YAML file.
func (cfg *Config) ApplyEnvOverrides() {
	overrideString(&cfg.Target.Addr, "PROXCHAT_LOADTEST_TARGET")
	overrideInt(&cfg.Clients.Count, "PROXCHAT_LOADTEST_CLIENTS")
	overrideDuration(&cfg.Simulation.Duration, "PROXCHAT_LOADTEST_DURATION")
	overrideString(&cfg.CSV.Path, "PROXCHAT_LOADTEST_CSV")
}

// Validate performs structural validation of the loaded configuration.
func (cfg *Config) Validate() error {
	if cfg.Target.Addr == "" {
		return fmt.Errorf("target.addr: must not be empty")
	}
	if cfg.Target.Path == "" {
		return fmt.Errorf("target.path: must not be empty")
	}
	if cfg.Clients.Count <= 0 {
		return fmt.Errorf("clients.count: must be positive")
	}
	if cfg.Simulation.Duration <= 0 {
		return fmt.Errorf("simulation.duration: must be positive")
	}
	if cfg.Movement.UpdateRate <= 0 {
		return fmt.Errorf("movement.updateRate: must be positive")
	}
	if cfg.Movement.BoundsWidth <= 0 || cfg.Movement.BoundsHeight <= 0 {
		return fmt.Errorf("movement bounds: width and height must be positive")
	}
	return nil
}

func overrideString(field *string, env string) {
	if val := os.Getenv(env); val != "" {
		*field = val
	}
}

func overrideInt(field *int, env string) {
	if val := os.Getenv(env); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*field = n
		}
	}
}

func overrideDuration(field *time.Duration, env string) {
	if val := os.Getenv(env); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*field = d
		}
	}
}
