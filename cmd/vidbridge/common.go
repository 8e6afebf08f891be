package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/mscrnt/vidbridge/pkg/config"
	"github.com/mscrnt/vidbridge/pkg/db"
	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/regport"
	"github.com/mscrnt/vidbridge/pkg/sim"
	"github.com/mscrnt/vidbridge/pkg/vidc"
	"github.com/mscrnt/vidbridge/pkg/video"
)

// loadConfig reads the config file and applies the global flags
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	if useSim {
		cfg.Hardware.Sim = true
	}
	if simMode != "" {
		cfg.Hardware.Sim = true
		cfg.Hardware.SimMode = simMode
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// bridge is an engine wired to its register files, diagnostics and history
type bridge struct {
	cfg     config.Config
	sim     *sim.Bridge
	engine  *engine.Engine
	diags   *diag.Log
	history *db.DB
	loggers []*log.Logger
	closers []io.Closer
}

// openBridge maps the register files (or starts the simulator) and builds
// the engine. withHistory opens the history database and records every
// outcome and diagnostic to it.
func openBridge(cfg config.Config, withHistory bool) (*bridge, error) {
	b := &bridge{cfg: cfg}

	var src, out regport.Port
	if cfg.Hardware.Sim {
		b.sim = sim.New()
		if err := b.sim.SetMode(cfg.Hardware.SimMode); err != nil {
			return nil, err
		}
		src, out = b.sim.Source, b.sim.Output
	} else {
		s, err := regport.OpenMMIO(cfg.Hardware.MemDevice, cfg.Hardware.SourceAddr, vidc.RegisterFileBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to map source registers: %w", err)
		}
		b.closers = append(b.closers, s)
		o, err := regport.OpenMMIO(cfg.Hardware.MemDevice, cfg.Hardware.OutputAddr, video.NumRegs*4)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to map output registers: %w", err)
		}
		b.closers = append(b.closers, o)
		src, out = s, o
	}

	presets, err := cfg.PresetRegistry()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("invalid presets: %w", err)
	}

	b.diags = diag.NewLog(cfg.Engine.MaxDiagnostics, b.logger("[diag] "))
	ec := cfg.EngineConfig()
	ec.Presets = presets
	ec.Diagnostics = b.diags
	ec.Logger = b.logger("[engine] ")

	if withHistory {
		history, err := db.Open(cfg.DBPath)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		b.history = history
		b.closers = append(b.closers, history)
		ec.Diagnostics = diag.Multi{b.diags, db.Sink{DB: history, Logger: ec.Logger}}
		ec.Recorder = history
	}

	b.engine = engine.New(src, out, ec)
	return b, nil
}

func (b *bridge) logger(prefix string) *log.Logger {
	l := log.New(os.Stderr, prefix, log.LstdFlags)
	b.loggers = append(b.loggers, l)
	return l
}

// setLogOutput redirects every logger of the bridge, so a terminal can keep
// its prompt intact
func (b *bridge) setLogOutput(w io.Writer) {
	for _, l := range b.loggers {
		l.SetOutput(w)
	}
}

// Close releases the mappings and the database
func (b *bridge) Close() error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closers = nil
	return firstErr
}

// openHistory opens only the history database
func openHistory() (*db.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	path := cfg.DBPath
	if dbPath != "" {
		path = dbPath
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// parseUint parses a numeric argument in decimal, or hex with a 0x prefix
func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

func parseUints(args []string) ([]uint32, error) {
	vals := make([]uint32, len(args))
	for i, a := range args {
		v, err := parseUint(a)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
