// Package sim simulates the two register files of a bridge: a source
// controller that can be switched between modes and an output stage that
// acknowledges syncs and generates flyback.
package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mscrnt/vidbridge/pkg/regport"
	"github.com/mscrnt/vidbridge/pkg/timing"
	"github.com/mscrnt/vidbridge/pkg/vidc"
	"github.com/mscrnt/vidbridge/pkg/video"
)

// Bridge is a simulated bridge. Source and Output are safe to hand to an
// engine.
type Bridge struct {
	Source *regport.Memory
	Output *regport.Memory

	mu            sync.Mutex
	ackDelay      int
	flybackPeriod int
	waiting       int
	syncReads     uint64
	syncs         int
	latched       video.Registers
}

// Option configures a Bridge
type Option func(*Bridge)

// WithAckDelay makes the output stage acknowledge a sync on the n'th poll
// after it was requested. A negative n never acknowledges.
func WithAckDelay(n int) Option {
	return func(b *Bridge) {
		b.ackDelay = n
	}
}

// WithFlybackPeriod toggles flyback every n reads of the sync register. Zero
// holds flyback low.
func WithFlybackPeriod(n int) Option {
	return func(b *Bridge) {
		b.flybackPeriod = n
	}
}

// New creates a bridge with its source idle at all-zero registers
func New(opts ...Option) *Bridge {
	b := &Bridge{
		Source:        regport.NewMemory(vidc.RegisterFileBytes / 4),
		Output:        regport.NewMemory(video.NumRegs),
		ackDelay:      1,
		flybackPeriod: 2,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.Output.OnWrite(video.RegSync, func(old, v uint32) uint32 {
		const owned = video.SyncRequest | video.TimingAck
		return v&owned | old&^owned
	})
	b.Output.OnRead(video.RegSync, b.readSync)
	return b
}

func (b *Bridge) readSync(v uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncReads++
	if !video.Synced(v) && b.ackDelay >= 0 {
		b.waiting++
		if b.waiting >= b.ackDelay {
			v ^= video.SyncAck
			b.Output.Poke(video.RegSync, v)
			b.waiting = 0
			b.syncs++
			b.latched = b.peekRegisters()
		}
	}

	if b.flybackPeriod > 0 && (b.syncReads/uint64(b.flybackPeriod))%2 == 1 {
		v |= video.Flyback
	} else {
		v &^= video.Flyback
	}
	return v
}

func (b *Bridge) peekRegisters() video.Registers {
	p := b.Output.Peek
	return video.Registers{
		ResX:    p(video.RegResX),
		HFP:     p(video.RegHFP),
		HSWidth: p(video.RegHSWidth),
		HBP:     p(video.RegHBP),
		ResY:    p(video.RegResY),
		VFP:     p(video.RegVFP),
		VSWidth: p(video.RegVSWidth),
		VBP:     p(video.RegVBP),
		WPLM1:   p(video.RegWPLM1),
		Ctrl:    p(video.RegCtrl),
	}
}

// SetSnapshot loads raw source registers and signals a timing change
func (b *Bridge) SetSnapshot(s vidc.Snapshot) {
	vidc.WriteSnapshot(b.Source, s)
	b.Output.Poke(video.RegSync, b.Output.Peek(video.RegSync)^video.TimingStatus)
}

// SetSource programs the source to generate src and signals a timing change
func (b *Bridge) SetSource(src timing.SourceTiming) error {
	snap, err := vidc.Encode(src)
	if err != nil {
		return err
	}
	b.SetSnapshot(snap)
	return nil
}

// SetMode switches the source to one of the sample modes
func (b *Bridge) SetMode(name string) error {
	src, err := LookupMode(name)
	if err != nil {
		return err
	}
	return b.SetSource(src)
}

// LookupMode returns the source timing of a sample mode
func LookupMode(name string) (timing.SourceTiming, error) {
	src, ok := sampleModes[name]
	if !ok {
		return timing.SourceTiming{}, fmt.Errorf("unknown sample mode %q", name)
	}
	return src, nil
}

// SetAckDelay changes the ack delay of a running bridge. A negative n stops
// acknowledging.
func (b *Bridge) SetAckDelay(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ackDelay = n
	b.waiting = 0
}

// Syncs returns the number of syncs acknowledged
func (b *Bridge) Syncs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncs
}

// Latched returns the timing registers as they were at the last
// acknowledged sync
func (b *Bridge) Latched() video.Registers {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latched
}

var sampleModes = map[string]timing.SourceTiming{
	// 256 colours at 8MHz, pixel and line doubled
	"320x256x8": {
		XRes: 320, YRes: 256, BppLog2: 3, PixelClockMHz: 8,
		HFrontPorch: 19, HSyncWidth: 38, HBackPorch: 135,
		VFrontPorch: 37, VSyncWidth: 3, VBackPorch: 16,
	},
	// 16 colours at 16MHz, line doubled
	"640x256x4": {
		XRes: 640, YRes: 256, BppLog2: 2, PixelClockMHz: 16,
		HFrontPorch: 239, HSyncWidth: 72, HBackPorch: 73,
		VFrontPorch: 37, VSyncWidth: 3, VBackPorch: 16,
	},
	// Already at 24MHz, so it cannot be line doubled
	"640x256x4-24mhz": {
		XRes: 640, YRes: 256, BppLog2: 2, PixelClockMHz: 24,
		HFrontPorch: 239, HSyncWidth: 72, HBackPorch: 73,
		VFrontPorch: 37, VSyncWidth: 3, VBackPorch: 16,
	},
	"640x480x4": {
		XRes: 640, YRes: 480, BppLog2: 2, PixelClockMHz: 24,
		HFrontPorch: 17, HSyncWidth: 96, HBackPorch: 47,
		VFrontPorch: 11, VSyncWidth: 2, VBackPorch: 32,
	},
	// Monochrome hires, seen by the source as a tall 4bpp mode
	"1152x896-hires": {
		XRes: 288, YRes: 896, BppLog2: 2, PixelClockMHz: 24,
		HFrontPorch: 17, HSyncWidth: 40, HBackPorch: 47,
		VFrontPorch: 4, VSyncWidth: 3, VBackPorch: 47,
	},
	"320x512x8": {
		XRes: 320, YRes: 512, BppLog2: 3, PixelClockMHz: 16,
		HFrontPorch: 19, HSyncWidth: 38, HBackPorch: 135,
		VFrontPorch: 31, VSyncWidth: 3, VBackPorch: 16,
	},
}

// Modes returns the names of the sample modes
func Modes() []string {
	names := make([]string, 0, len(sampleModes))
	for name := range sampleModes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
