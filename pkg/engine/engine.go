// Package engine ties source decoding, retiming and the output handshake
// together. An Engine is driven from a single goroutine; Loop provides one.
package engine

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/regport"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/vidc"
	"github.com/mscrnt/vidbridge/pkg/video"
)

// DefaultFlybackBudget bounds the wait for a flyback edge before a probe
const DefaultFlybackBudget = 2000000

// Trigger says why an outcome was produced
type Trigger string

const (
	TriggerEdge   Trigger = "edge"
	TriggerManual Trigger = "manual"
	TriggerPreset Trigger = "preset"
)

// Recorder stores outcomes
type Recorder interface {
	RecordOutcome(Outcome) error
}

// Config configures an Engine
type Config struct {
	// SyncBudget is the number of polls a sync waits for its ack
	SyncBudget int

	// WaitFlyback waits for the end of a frame before reading the source.
	// FlybackBudget bounds each phase of that wait in reads; zero skips it.
	WaitFlyback   bool
	FlybackBudget int

	// Autoprobe retimes on every detected source change
	Autoprobe bool

	Presets     *video.Registry
	Diagnostics diag.Sink
	Recorder    Recorder
	Logger      *log.Logger
}

// DefaultConfig returns the configuration used by the firmware
func DefaultConfig() Config {
	return Config{
		SyncBudget:    video.DefaultSyncBudget,
		WaitFlyback:   true,
		FlybackBudget: DefaultFlybackBudget,
		Autoprobe:     true,
	}
}

// Outcome describes one retime or preset application
type Outcome struct {
	Time      time.Time           `json:"time"`
	Trigger   Trigger             `json:"trigger"`
	Status    uint32              `json:"status"`
	Snapshot  vidc.Snapshot       `json:"snapshot"`
	Source    timing.SourceTiming `json:"source"`
	Result    timing.Result       `json:"result"`
	PresetID  int                 `json:"preset_id,omitempty"`
	Registers video.Registers     `json:"registers"`
	Sync      video.SyncResult    `json:"sync"`
	Retimed   bool                `json:"retimed"`
}

// Engine retimes the output stage to match the source controller
type Engine struct {
	src       regport.Port
	out       regport.Port
	cfg       Config
	autoprobe atomic.Bool
}

// New creates an engine reading the source registers from src and
// programming out
func New(src, out regport.Port, cfg Config) *Engine {
	if cfg.SyncBudget <= 0 {
		cfg.SyncBudget = video.DefaultSyncBudget
	}
	if cfg.Presets == nil {
		cfg.Presets = video.DefaultRegistry()
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = diag.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	e := &Engine{
		src: src,
		out: out,
		cfg: cfg,
	}
	e.autoprobe.Store(cfg.Autoprobe)
	return e
}

// Autoprobe reports whether source changes are retimed automatically
func (e *Engine) Autoprobe() bool {
	return e.autoprobe.Load()
}

// SetAutoprobe turns automatic retiming on or off
func (e *Engine) SetAutoprobe(on bool) {
	e.autoprobe.Store(on)
	e.cfg.Logger.Printf("Autoprobe is %s", onOff(on))
}

// ToggleAutoprobe flips automatic retiming and returns the new setting
func (e *Engine) ToggleAutoprobe() bool {
	for {
		old := e.autoprobe.Load()
		if e.autoprobe.CompareAndSwap(old, !old) {
			e.cfg.Logger.Printf("Autoprobe is %s", onOff(!old))
			return !old
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (e *Engine) report(ev diag.Event) {
	e.cfg.Diagnostics.Report(ev)
}

func (e *Engine) record(o Outcome) {
	if e.cfg.Recorder == nil {
		return
	}
	if err := e.cfg.Recorder.RecordOutcome(o); err != nil {
		e.cfg.Logger.Printf("Failed to record outcome: %v", err)
	}
}

// Probe checks for a source timing change. When one is pending it is
// acknowledged and, with autoprobe on, the output is retimed. A retime whose
// sync times out leaves the change unacknowledged, so the next Probe retries
// it. Probe reports whether a change was seen.
func (e *Engine) Probe() (Outcome, bool) {
	pending, observed := video.Pending(e.out)
	if !pending {
		return Outcome{}, false
	}
	e.cfg.Logger.Printf("<VIDC RECONFIG %08x>", observed)

	var o Outcome
	if e.Autoprobe() {
		o = e.retime(TriggerEdge)
	} else {
		o = Outcome{Time: time.Now(), Trigger: TriggerEdge}
	}
	o.Status = observed

	if !o.Retimed || o.Sync.Committed {
		video.Acknowledge(e.out, observed)
	}
	if o.Retimed {
		e.record(o)
	}
	return o, true
}

// Retime decodes the current source timing and programs a matching output
// timing, whether or not a change is pending
func (e *Engine) Retime() Outcome {
	o := e.retime(TriggerManual)
	o.Status = e.out.Read(video.RegSync)
	e.record(o)
	return o
}

func (e *Engine) retime(trigger Trigger) Outcome {
	start := time.Now()
	if e.cfg.WaitFlyback && e.cfg.FlybackBudget > 0 {
		if err := video.WaitFlyback(e.out, e.cfg.FlybackBudget); err != nil {
			e.report(diag.New(diag.FlybackTimeout, "no flyback within %d reads, reading source anyway", e.cfg.FlybackBudget))
		}
	}

	snap := vidc.ReadSnapshot(e.src)
	src := vidc.Decode(snap)
	e.cfg.Logger.Printf("New mode %s", src)

	res := timing.Retime(src)
	for _, ev := range res.Diagnostics {
		e.report(ev)
	}
	switch res.Applied {
	case timing.HiresMono:
		e.cfg.Logger.Printf("Guessed hires mono mode")
	case timing.YDoubled, timing.XYDoubled:
		e.cfg.Logger.Printf("%s: new width %d, fp %d, xsw %d, bp %d", res.Applied,
			res.Output.HorizTotal, res.Output.HFrontPorch, res.Output.HSyncWidth, res.Output.HBackPorch)
	}

	regs := video.Commit(e.out, res.Output)
	sr, _ := e.sync()

	return Outcome{
		Time:      start,
		Trigger:   trigger,
		Snapshot:  snap,
		Source:    src,
		Result:    res,
		Registers: regs,
		Sync:      sr,
		Retimed:   true,
	}
}

// ApplyPreset programs one of the preset timings and syncs
func (e *Engine) ApplyPreset(id int) (Outcome, error) {
	start := time.Now()
	p, err := e.cfg.Presets.Lookup(id)
	if err != nil {
		e.report(diag.New(diag.UnknownPreset, "unknown mode %d", id))
		return Outcome{}, err
	}
	e.cfg.Logger.Printf("Setting mode %d (%s)", p.ID, p.Name)

	regs := video.Commit(e.out, p.Timing)
	sr, _ := e.sync()

	o := Outcome{
		Time:    start,
		Trigger: TriggerPreset,
		Result: timing.Result{
			Output: p.Timing,
		},
		PresetID:  p.ID,
		Registers: regs,
		Sync:      sr,
		Status:    sr.Status,
	}
	e.record(o)
	return o, nil
}

// Presets lists the presets available to ApplyPreset
func (e *Engine) Presets() []video.Preset {
	return e.cfg.Presets.List()
}

// SetHorizontalTiming writes the horizontal registers verbatim. The change
// takes effect at the next CommitSync.
func (e *Engine) SetHorizontalTiming(xres, fp, sw, bp, wplm1 uint32) {
	video.SetHorizontal(e.out, xres, fp, sw, bp, wplm1)
}

// SetVerticalTiming writes the vertical registers verbatim. The change takes
// effect at the next CommitSync.
func (e *Engine) SetVerticalTiming(yres, fp, sw, bp uint32) {
	video.SetVertical(e.out, yres, fp, sw, bp)
}

// SetCursorOffset sets the cursor X offset
func (e *Engine) SetCursorOffset(offset uint32) {
	video.SetCursorOffset(e.out, offset)
}

// CommitSync asks the output stage to latch the timing registers
func (e *Engine) CommitSync() (video.SyncResult, error) {
	return e.sync()
}

func (e *Engine) sync() (video.SyncResult, error) {
	res, err := video.Sync(e.out, e.cfg.SyncBudget)
	if errors.Is(err, video.ErrSyncTimeout) {
		e.report(diag.New(diag.SyncTimeout, "timeout (reg %02x)", res.Status))
		return res, err
	}
	e.cfg.Logger.Printf("Synchronised (new reg %02x)", res.Status)
	return res, err
}

// Source decodes the current source timing without touching the output
func (e *Engine) Source() (vidc.Snapshot, timing.SourceTiming) {
	snap := vidc.ReadSnapshot(e.src)
	return snap, vidc.Decode(snap)
}

// ReadBack returns the output timing registers
func (e *Engine) ReadBack() video.Registers {
	return video.ReadRegisters(e.out)
}

// SyncStatus returns the raw sync register
func (e *Engine) SyncStatus() uint32 {
	return e.out.Read(video.RegSync)
}

// Space selects one of the two register files
type Space int

const (
	SourceSpace Space = iota
	OutputSpace
)

func (e *Engine) space(s Space) (regport.Port, uint32) {
	if s == SourceSpace {
		return e.src, vidc.RegisterFileBytes / 4
	}
	return e.out, video.NumRegs
}

// ReadRegister reads a raw register word. Offsets past the end of the file
// read as zero.
func (e *Engine) ReadRegister(s Space, offset uint32) uint32 {
	port, size := e.space(s)
	if offset >= size {
		return 0
	}
	return port.Read(offset)
}

// WriteRegister writes a raw register word. Writes past the end of the file
// are dropped.
func (e *Engine) WriteRegister(s Space, offset, value uint32) {
	port, size := e.space(s)
	if offset >= size {
		return
	}
	port.Write(offset, value)
}
