// Package config loads the vidbridge configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mscrnt/vidbridge/pkg/agent"
	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/schedule"
	"github.com/mscrnt/vidbridge/pkg/sim"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/video"
	"gopkg.in/yaml.v3"
)

// DefaultMemDevice is the physical memory device mapped for register access
const DefaultMemDevice = "/dev/mem"

// Config is the top level configuration
type Config struct {
	Hardware Hardware         `yaml:"hardware"`
	Engine   Engine           `yaml:"engine"`
	DBPath   string           `yaml:"db_path"`
	Agent    Agent            `yaml:"agent"`
	Jobs     []schedule.Job   `yaml:"jobs"`
	Presets  []PresetOverride `yaml:"presets"`
}

// Hardware says where the two register files live. With Sim set the
// simulated bridge is used instead.
type Hardware struct {
	Sim        bool   `yaml:"sim"`
	SimMode    string `yaml:"sim_mode"`
	MemDevice  string `yaml:"mem_device"`
	SourceAddr uint64 `yaml:"source_addr"`
	OutputAddr uint64 `yaml:"output_addr"`
}

// Engine holds the retiming engine settings
type Engine struct {
	SyncBudget     int           `yaml:"sync_budget"`
	WaitFlyback    bool          `yaml:"wait_flyback"`
	FlybackBudget  int           `yaml:"flyback_budget"`
	Autoprobe      bool          `yaml:"autoprobe"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxDiagnostics int           `yaml:"max_diagnostics"`
}

// Agent holds the control agent settings
type Agent struct {
	Enabled  bool   `yaml:"enabled"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
	CAFile   string `yaml:"ca"`
	LogFile  string `yaml:"log_file"`
}

// PresetOverride adds or replaces a preset timing
type PresetOverride struct {
	ID     int                 `yaml:"id"`
	Name   string              `yaml:"name"`
	Timing timing.OutputTiming `yaml:"timing"`
}

// Default returns the built-in configuration
func Default() Config {
	ec := engine.DefaultConfig()
	return Config{
		Hardware: Hardware{
			SimMode:   "320x256x8",
			MemDevice: DefaultMemDevice,
		},
		Engine: Engine{
			SyncBudget:    ec.SyncBudget,
			WaitFlyback:   ec.WaitFlyback,
			FlybackBudget: ec.FlybackBudget,
			Autoprobe:     ec.Autoprobe,

			MaxDiagnostics: diag.DefaultMaxEvents,
		},
		DBPath: DefaultDBPath(),
		Agent: Agent{
			Port: agent.DefaultPort,
		},
	}
}

// Dir returns the per-user configuration directory, creating it if needed.
// It returns "" when no home directory is available.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(homeDir, ".vidbridge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return dir
}

// DefaultDBPath returns the history database path
func DefaultDBPath() string {
	if dir := Dir(); dir != "" {
		return filepath.Join(dir, "history.db")
	}
	return "vidbridge.db"
}

// Load reads the configuration from path. An empty path uses
// $VIDBRIDGE_CONFIG, then ~/.vidbridge/config.yaml if it exists, then the
// defaults. Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VIDBRIDGE_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		if dir := Dir(); dir != "" {
			path = filepath.Join(dir, "config.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
		default:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VIDBRIDGE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("VIDBRIDGE_AGENT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VIDBRIDGE_AGENT_PORT: %w", err)
		}
		c.Agent.Port = port
	}
	if v := os.Getenv("VIDBRIDGE_AGENT_CERT"); v != "" {
		c.Agent.CertFile = v
	}
	if v := os.Getenv("VIDBRIDGE_AGENT_KEY"); v != "" {
		c.Agent.KeyFile = v
	}
	if v := os.Getenv("VIDBRIDGE_AGENT_CA"); v != "" {
		c.Agent.CAFile = v
	}
	if v := os.Getenv("VIDBRIDGE_AGENT_LOG"); v != "" {
		c.Agent.LogFile = v
	}
	return nil
}

// Save writes the configuration as YAML
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Engine.SyncBudget <= 0 {
		return fmt.Errorf("sync_budget must be positive")
	}
	if c.Engine.FlybackBudget < 0 {
		return fmt.Errorf("flyback_budget cannot be negative")
	}
	if c.Engine.PollInterval < 0 {
		return fmt.Errorf("poll_interval cannot be negative")
	}

	if c.Hardware.Sim {
		if _, err := sim.LookupMode(c.Hardware.SimMode); err != nil {
			return err
		}
	} else {
		if c.Hardware.SourceAddr == 0 || c.Hardware.OutputAddr == 0 {
			return fmt.Errorf("source_addr and output_addr are required without sim")
		}
		if c.Hardware.MemDevice == "" {
			return fmt.Errorf("mem_device is required without sim")
		}
	}

	if c.Agent.Enabled && (c.Agent.Port <= 0 || c.Agent.Port > 65535) {
		return fmt.Errorf("invalid agent port: %d", c.Agent.Port)
	}

	names := make(map[string]bool)
	for _, j := range c.Jobs {
		if err := j.Validate(); err != nil {
			return err
		}
		if names[j.Name] {
			return fmt.Errorf("duplicate job %s", j.Name)
		}
		names[j.Name] = true
	}

	for _, p := range c.Presets {
		if p.ID < 0 {
			return fmt.Errorf("invalid preset id %d", p.ID)
		}
		if p.Timing.XRes == 0 || p.Timing.YRes == 0 {
			return fmt.Errorf("preset %d has no resolution", p.ID)
		}
	}
	return nil
}

// EngineConfig converts the engine section for engine.New
func (c Config) EngineConfig() engine.Config {
	ec := engine.DefaultConfig()
	ec.SyncBudget = c.Engine.SyncBudget
	ec.WaitFlyback = c.Engine.WaitFlyback
	ec.FlybackBudget = c.Engine.FlybackBudget
	ec.Autoprobe = c.Engine.Autoprobe
	return ec
}

// PresetRegistry returns the built-in presets with the configured ones
// added or replacing them
func (c Config) PresetRegistry() (*video.Registry, error) {
	reg := video.DefaultRegistry()
	for _, p := range c.Presets {
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("custom %d", p.ID)
		}
		if err := reg.Register(video.Preset{ID: p.ID, Name: name, Timing: p.Timing}, true); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
