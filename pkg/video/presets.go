package video

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mscrnt/vidbridge/pkg/timing"
)

// ErrUnknownPreset is returned for a preset id with no table entry
var ErrUnknownPreset = errors.New("video: unknown preset")

// Preset is a hand-tuned output timing selected by source mode number
type Preset struct {
	ID     int                 `json:"id"`
	Name   string              `json:"name"`
	Timing timing.OutputTiming `json:"timing"`
}

// Registry holds the presets available to an engine
type Registry struct {
	mu      sync.RWMutex
	presets map[int]Preset
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		presets: make(map[int]Preset),
	}
}

// DefaultRegistry creates a registry holding the built-in presets
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtinPresets() {
		r.presets[p.ID] = p
	}
	return r
}

// Register adds a preset. An id already present is an error unless replace
// is set.
func (r *Registry) Register(p Preset, replace bool) error {
	if p.ID < 0 {
		return fmt.Errorf("preset id %d cannot be negative", p.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.presets[p.ID]; exists && !replace {
		return fmt.Errorf("preset %d already registered", p.ID)
	}
	r.presets[p.ID] = p
	return nil
}

// Lookup returns the preset with the given id
func (r *Registry) Lookup(id int) (Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.presets[id]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %d (0x%x)", ErrUnknownPreset, id, id)
	}
	return p, nil
}

// List returns all presets ordered by id
func (r *Registry) List() []Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

// Build a preset timing from a horizontal and vertical total, filling the
// back porches with what remains
func fixed(xres, hfp, hsw, htotal, yres, vfp, vsw, vtotal uint32) timing.OutputTiming {
	return timing.OutputTiming{
		XRes:        xres,
		HFrontPorch: hfp,
		HSyncWidth:  hsw,
		HBackPorch:  htotal - xres - hfp - hsw,
		HorizTotal:  htotal,
		YRes:        yres,
		VFrontPorch: vfp,
		VSyncWidth:  vsw,
		VBackPorch:  vtotal - yres - vfp - vsw,
		VertTotal:   vtotal,
	}
}

// The built-in table. Values come from tuning against real monitors and are
// not derived from anything.
func builtinPresets() []Preset {
	var presets []Preset

	hires := fixed(1152, 40, 20, 1274, 896, 4, 3, 950)
	hires.PixelClockMHz = timing.HiresClockMHz
	hires.WordsPerLineMinus1 = 36 - 1
	hires.CursorXOffset = 0x12c
	hires.Hires = true
	presets = append(presets, Preset{ID: 23, Name: "1152x896 mono hires", Timing: hires})

	for bpp := uint32(0); bpp < 4; bpp++ {
		vga := fixed(640, 34, 96, 800, 480, 11, 1, 525)
		vga.PixelClockMHz = 24
		vga.BppLog2 = bpp
		vga.WordsPerLineMinus1 = timing.WordsPerLineMinus1(640, bpp)
		// ((HDSR*2)+19)-6, the same for every depth
		vga.CursorXOffset = 137
		presets = append(presets, Preset{
			ID:     25 + int(bpp),
			Name:   fmt.Sprintf("640x480 %dbpp", 1<<bpp),
			Timing: vga,
		})

		tall := fixed(640, 87, 56, 896, 512, 1, 3, 534)
		tall.PixelClockMHz = 24
		tall.BppLog2 = bpp
		tall.WordsPerLineMinus1 = timing.WordsPerLineMinus1(640, bpp)
		tall.CursorXOffset = 0x52*2 + 5 - 6
		presets = append(presets, Preset{
			ID:     18 + int(bpp),
			Name:   fmt.Sprintf("640x512 %dbpp", 1<<bpp),
			Timing: tall,
		})
	}

	// Half the 16MHz source line period at 24MHz gives a 768 pixel line;
	// the frame is two source frames of 312 lines tall
	for bpp, id := range []int{0, 8, 12, 15} {
		t := fixed(640, 40, 20, 768, 512, 40, 5, 624)
		t.PixelClockMHz = timing.DoubledClockMHz
		t.BppLog2 = uint32(bpp)
		t.WordsPerLineMinus1 = timing.WordsPerLineMinus1(640, uint32(bpp))
		t.CursorXOffset = 0x6d*2 + 5 - 6
		t.DoubleY = true
		presets = append(presets, Preset{
			ID:     id,
			Name:   fmt.Sprintf("640x256 %dbpp line doubled", 1<<bpp),
			Timing: t,
		})
	}

	// 0xcc is the 16bpp 565 hicolour mode
	for bpp, id := range []int{4, 1, 9, 13, 0xcc} {
		t := fixed(640, 40, 20, 768, 512, 40, 5, 624)
		t.PixelClockMHz = timing.DoubledClockMHz
		t.BppLog2 = uint32(bpp)
		t.WordsPerLineMinus1 = timing.WordsPerLineMinus1(320, uint32(bpp))
		t.CursorXOffset = 0x68
		t.DoubleX = true
		t.DoubleY = true
		presets = append(presets, Preset{
			ID:     id,
			Name:   fmt.Sprintf("320x256 %dbpp line and pixel doubled", 1<<bpp),
			Timing: t,
		})
	}

	return presets
}
