package db

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/video"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func edgeOutcome(at time.Time) engine.Outcome {
	src := timing.SourceTiming{
		XRes: 320, YRes: 256, BppLog2: 3, PixelClockMHz: 8,
		HorizTotal: 512, VertTotal: 312,
	}
	res := timing.Retime(src)
	return engine.Outcome{
		Time:      at,
		Trigger:   engine.TriggerEdge,
		Status:    0x8,
		Source:    src,
		Result:    res,
		Registers: video.Pack(res.Output),
		Sync:      video.SyncResult{Committed: true, Polls: 3},
		Retimed:   true,
	}
}

func TestRecordAndGetProbe(t *testing.T) {
	db := openTestDB(t)

	p, err := db.CreateProbe(edgeOutcome(time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetProbe(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Trigger != "edge" || got.Applied != "xy-doubled" || got.Classified != "xy-doubled" {
		t.Errorf("probe = %+v", got)
	}
	if got.XRes != 320 || got.YRes != 256 || got.PixelClockMHz != 8 || !got.Committed || got.Polls != 3 {
		t.Errorf("probe = %+v", got)
	}
	if got.FrameRate == nil || *got.FrameRate != 50 {
		t.Errorf("frame rate = %v", got.FrameRate)
	}
	if got.PresetID != nil {
		t.Errorf("edge probe has preset %d", *got.PresetID)
	}
	if got.Output.Uint("xres") != 640 || got.Output["double_x"] != true {
		t.Errorf("output = %v", got.Output)
	}
	if got.Registers.Uint("wplm1") != 79 {
		t.Errorf("registers = %v", got.Registers)
	}

	if _, err := db.GetProbe(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProbe(999) err = %v", err)
	}
}

func TestRecordPreset(t *testing.T) {
	db := openTestDB(t)
	p, _ := video.DefaultRegistry().Lookup(23)

	err := db.RecordOutcome(engine.Outcome{
		Trigger:  engine.TriggerPreset,
		PresetID: 23,
		Result:   timing.Result{Output: p.Timing},
		Sync:     video.SyncResult{Committed: false, Polls: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	probes, err := db.ListProbes(ProbeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(probes) != 1 {
		t.Fatalf("%d probes, want 1", len(probes))
	}
	got := probes[0]
	if got.PresetID == nil || *got.PresetID != 23 || got.XRes != 1152 || got.Applied != "" || got.Source != nil {
		t.Errorf("probe = %+v", got)
	}
}

func TestListProbesFilters(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		o := edgeOutcome(base.Add(time.Duration(i) * time.Minute))
		if i == 2 {
			o.Sync.Committed = false
		}
		if _, err := db.CreateProbe(o); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.ListProbes(ProbeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 || !all[0].Time.After(all[4].Time) {
		t.Fatalf("ListProbes returned %d, newest first = %v", len(all), len(all) > 0 && all[0].Time.After(all[4].Time))
	}

	failed := true
	res, _ := db.ListProbes(ProbeFilter{Failed: &failed})
	if len(res) != 1 {
		t.Errorf("failed filter returned %d, want 1", len(res))
	}

	res, _ = db.ListProbes(ProbeFilter{Limit: 2, Offset: 1})
	if len(res) != 2 || res[0].ID != all[1].ID {
		t.Errorf("limit/offset returned %d", len(res))
	}

	since := base.Add(150 * time.Second)
	res, _ = db.ListProbes(ProbeFilter{Since: &since})
	if len(res) != 2 {
		t.Errorf("since filter returned %d, want 2", len(res))
	}

	res, _ = db.ListProbes(ProbeFilter{Applied: "hires-mono"})
	if len(res) != 0 {
		t.Errorf("applied filter returned %d, want 0", len(res))
	}

	counts, err := db.CountByMode()
	if err != nil {
		t.Fatal(err)
	}
	if counts["xy-doubled"] != 5 {
		t.Errorf("counts = %v", counts)
	}
}

func TestDiagnosticsAndPrune(t *testing.T) {
	db := openTestDB(t)
	sink := Sink{DB: db}

	old := diag.New(diag.SyncTimeout, "timeout (reg %02x)", 1)
	old.Time = time.Now().Add(-48 * time.Hour)
	sink.Report(old)
	sink.Report(diag.New(diag.Infeasible, "nope"))

	if _, err := db.CreateProbe(edgeOutcome(time.Now().Add(-48 * time.Hour))); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateProbe(edgeOutcome(time.Now())); err != nil {
		t.Fatal(err)
	}

	diags, err := db.ListDiagnostics(DiagnosticFilter{Kind: string(diag.SyncTimeout)})
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 || diags[0].Message != "timeout (reg 01)" {
		t.Errorf("diagnostics = %v", diags)
	}

	n, err := db.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
	probes, _ := db.ListProbes(ProbeFilter{})
	diags, _ = db.ListDiagnostics(DiagnosticFilter{})
	if len(probes) != 1 || len(diags) != 1 {
		t.Errorf("after prune: %d probes, %d diagnostics", len(probes), len(diags))
	}
}

func TestExport(t *testing.T) {
	db := openTestDB(t)
	p, err := db.CreateProbe(edgeOutcome(time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := db.Export(&buf, ExportFormatCSV, ProbeFilter{}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Probe ID,Trigger") {
		t.Fatalf("csv = %q", buf.String())
	}
	if !strings.Contains(lines[1], ",xy-doubled,xy-doubled,,320,256,8,8,50,640,512,true,3") {
		t.Errorf("csv row = %q", lines[1])
	}

	buf.Reset()
	if err := db.ExportJSON(&buf, p.ID); err != nil {
		t.Fatal(err)
	}
	var export struct {
		Probe *Probe `json:"probe"`
	}
	if err := json.Unmarshal(buf.Bytes(), &export); err != nil {
		t.Fatal(err)
	}
	if export.Probe == nil || export.Probe.ID != p.ID {
		t.Errorf("json export = %s", buf.String())
	}

	if err := db.Export(&buf, "xml", ProbeFilter{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
