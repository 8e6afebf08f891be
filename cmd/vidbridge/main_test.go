package main

import (
	"path/filepath"
	"testing"

	"github.com/mscrnt/vidbridge/pkg/db"
	"github.com/mscrnt/vidbridge/pkg/engine"
)

func TestParseUint(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"23", 23, false},
		{"0x1c", 0x1c, false},
		{"0X1C", 0x1c, false},
		{"0", 0, false},
		{"-1", 0, true},
		{"1c", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseUint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUint(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseUint(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func simFlags(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VIDBRIDGE_CONFIG", "")
	t.Setenv("VIDBRIDGE_DB_PATH", "")

	path := filepath.Join(home, "history.db")
	configPath, useSim, simMode, dbPath = "", true, "640x256x4", path
	t.Cleanup(func() {
		configPath, useSim, simMode, dbPath = "", false, "", ""
	})
	return path
}

func TestOpenBridgeRecordsHistory(t *testing.T) {
	path := simFlags(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Hardware.Sim || cfg.Hardware.SimMode != "640x256x4" || cfg.DBPath != path {
		t.Fatalf("flags not applied: %+v", cfg)
	}

	b, err := openBridge(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	o := b.engine.Retime()
	if !o.Retimed || !o.Sync.Committed {
		t.Errorf("outcome = %+v", o)
	}
	if _, err := b.engine.ApplyPreset(99); err == nil {
		t.Error("expected unknown preset error")
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	history, err := openHistory()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = history.Close() }()

	probes, err := history.ListProbes(db.ProbeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 1 || probes[0].Trigger != string(engine.TriggerManual) || probes[0].XRes != 640 {
		t.Errorf("probes = %+v", probes)
	}
	diags, err := history.ListDiagnostics(db.DiagnosticFilter{Kind: "unknown_preset"})
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 {
		t.Errorf("%d unknown preset diagnostics, want 1", len(diags))
	}
}

func TestOpenBridgeWithoutHistory(t *testing.T) {
	simFlags(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	b, err := openBridge(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	if b.history != nil {
		t.Error("history opened")
	}
	_, src := b.engine.Source()
	if src.XRes != 640 || src.YRes != 256 {
		t.Errorf("source = %v", src)
	}
}

func TestLoadConfigRejectsUnknownSimMode(t *testing.T) {
	simFlags(t)
	simMode = "1x1x1"

	if _, err := loadConfig(); err == nil {
		t.Error("expected error for unknown sim mode")
	}
}
