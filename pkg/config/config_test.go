package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mscrnt/vidbridge/pkg/schedule"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/video"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{
		"VIDBRIDGE_CONFIG", "VIDBRIDGE_DB_PATH", "VIDBRIDGE_AGENT_PORT",
		"VIDBRIDGE_AGENT_CERT", "VIDBRIDGE_AGENT_KEY", "VIDBRIDGE_AGENT_CA", "VIDBRIDGE_AGENT_LOG",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.SyncBudget != video.DefaultSyncBudget || !cfg.Engine.Autoprobe || !cfg.Engine.WaitFlyback {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Agent.Port != 2223 || cfg.Hardware.MemDevice != DefaultMemDevice {
		t.Errorf("cfg = %+v", cfg)
	}
	if !strings.HasSuffix(cfg.DBPath, filepath.Join(".vidbridge", "history.db")) {
		t.Errorf("db path = %s", cfg.DBPath)
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
hardware:
  sim: true
  sim_mode: 640x480x4
engine:
  sync_budget: 5000
  autoprobe: false
  poll_interval: 10ms
db_path: /tmp/h.db
jobs:
  - name: nightly-prune
    cron: "0 3 * * *"
    action: prune
    max_age: 720h
    enabled: true
presets:
  - id: 40
    name: 800x600
    timing:
      xres: 800
      yres: 600
      pixel_clock_mhz: 40
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.Hardware.Sim || cfg.Hardware.SimMode != "640x480x4" {
		t.Errorf("hardware = %+v", cfg.Hardware)
	}
	if cfg.Engine.SyncBudget != 5000 || cfg.Engine.Autoprobe || cfg.Engine.PollInterval != 10*time.Millisecond {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	// Unset keys keep their defaults
	if !cfg.Engine.WaitFlyback || cfg.Agent.Port != 2223 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Action != schedule.ActionPrune || cfg.Jobs[0].MaxAge != 720*time.Hour {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}

	reg, err := cfg.PresetRegistry()
	if err != nil {
		t.Fatal(err)
	}
	p, err := reg.Lookup(40)
	if err != nil || p.Timing.XRes != 800 || p.Name != "800x600" {
		t.Errorf("preset 40 = %+v, %v", p, err)
	}
	if _, err := reg.Lookup(23); err != nil {
		t.Error("built-in presets lost")
	}

	ec := cfg.EngineConfig()
	if ec.SyncBudget != 5000 || ec.Autoprobe {
		t.Errorf("engine config = %+v", ec)
	}
}

func TestLoadErrors(t *testing.T) {
	isolate(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("explicit missing file accepted")
	}
	if _, err := Load(writeConfig(t, "engine: [")); err == nil {
		t.Error("bad yaml accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "db_path: /from/file.db\n")
	t.Setenv("VIDBRIDGE_CONFIG", path)
	t.Setenv("VIDBRIDGE_DB_PATH", "/from/env.db")
	t.Setenv("VIDBRIDGE_AGENT_PORT", "9000")
	t.Setenv("VIDBRIDGE_AGENT_CA", "/ca.pem")
	t.Setenv("VIDBRIDGE_AGENT_LOG", "/agent.log")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/from/env.db" || cfg.Agent.Port != 9000 || cfg.Agent.CAFile != "/ca.pem" || cfg.Agent.LogFile != "/agent.log" {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("VIDBRIDGE_AGENT_PORT", "abc")
	if _, err := Load(""); err == nil {
		t.Error("bad port accepted")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Hardware.Sim = true
	cfg.Jobs = []schedule.Job{{Name: "resync", CronExpr: "@hourly", Action: schedule.ActionResync, Enabled: true}}

	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Hardware.Sim || len(got.Jobs) != 1 || got.Jobs[0].CronExpr != "@hourly" {
		t.Errorf("loaded = %+v", got)
	}
}

func TestValidate(t *testing.T) {
	sim := func() Config {
		c := Default()
		c.Hardware.Sim = true
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sim ok", func(c *Config) {}, ""},
		{"mmio ok", func(c *Config) {
			c.Hardware.Sim = false
			c.Hardware.SourceAddr = 0x3000000
			c.Hardware.OutputAddr = 0x3000400
		}, ""},
		{"mmio without addresses", func(c *Config) { c.Hardware.Sim = false }, "source_addr"},
		{"unknown sim mode", func(c *Config) { c.Hardware.SimMode = "1x1" }, "sample mode"},
		{"zero sync budget", func(c *Config) { c.Engine.SyncBudget = 0 }, "sync_budget"},
		{"negative poll", func(c *Config) { c.Engine.PollInterval = -1 }, "poll_interval"},
		{"agent port", func(c *Config) { c.Agent.Enabled = true; c.Agent.Port = 70000 }, "port"},
		{"bad job", func(c *Config) {
			c.Jobs = []schedule.Job{{Name: "x", CronExpr: "bad", Action: schedule.ActionResync}}
		}, "cron"},
		{"duplicate job", func(c *Config) {
			j := schedule.Job{Name: "x", CronExpr: "@hourly", Action: schedule.ActionResync}
			c.Jobs = []schedule.Job{j, j}
		}, "duplicate"},
		{"empty preset", func(c *Config) {
			c.Presets = []PresetOverride{{ID: 50, Timing: timing.OutputTiming{XRes: 640}}}
		}, "resolution"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sim()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
