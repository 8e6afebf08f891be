package vidc

import (
	"strings"
	"testing"

	"github.com/mscrnt/vidbridge/pkg/regport"
	"github.com/mscrnt/vidbridge/pkg/timing"
)

// Timing registers of a 320x256 256 colour mode at 8MHz
var mode13Regs = map[uint32]uint32{
	HCycle:        0x003fc000,
	HSync:         0x00048000,
	HDisplayStart: 0x00150000,
	HDisplayEnd:   0x003d0000,
	VCycle:        0x004dc000,
	VSync:         0x00008000,
	VDisplayStart: 0x00048000,
	VDisplayEnd:   0x00448000,
	Control:       0x0000000c,
}

func loadRegs(regs map[uint32]uint32) *regport.Memory {
	m := regport.NewMemory(RegisterFileBytes / 4)
	for addr, v := range regs {
		m.Poke(addr/4, v)
	}
	return m
}

func TestDecodeMode13(t *testing.T) {
	src := Decode(ReadSnapshot(loadRegs(mode13Regs)))

	want := timing.SourceTiming{
		XRes: 320, YRes: 256, BppLog2: 3, PixelClockMHz: 8,
		HFrontPorch: 19, HSyncWidth: 38, HBackPorch: 135,
		VFrontPorch: 37, VSyncWidth: 3, VBackPorch: 16,
		HorizTotal: 512, VertTotal: 312, DisplayStart: 173,
	}
	if src != want {
		t.Errorf("Decode() = %+v\nwant %+v", src, want)
	}
	if hz, ok := src.FrameRate(); !ok || hz != 50 {
		t.Errorf("frame rate = %d, %v; want 50", hz, ok)
	}
}

func TestDecodeOffsets(t *testing.T) {
	// The same register values give a display start that depends on depth
	tests := []struct {
		bpp   uint32
		start uint32
	}{
		{0, 168 + 19},
		{1, 168 + 11},
		{2, 168 + 7},
		{3, 168 + 5},
	}
	for _, tt := range tests {
		regs := map[uint32]uint32{}
		for k, v := range mode13Regs {
			regs[k] = v
		}
		regs[Control] = tt.bpp << ControlBppShift
		src := Decode(ReadSnapshot(loadRegs(regs)))
		if src.DisplayStart != tt.start {
			t.Errorf("bpp %d: display start = %d, want %d", tt.bpp, src.DisplayStart, tt.start)
		}
		if src.XRes != 320 {
			t.Errorf("bpp %d: xres = %d, want 320", tt.bpp, src.XRes)
		}
	}
}

func TestDecodeClockCodes(t *testing.T) {
	for code, want := range []uint32{8, 12, 16, 24} {
		src := Decode(Snapshot{Control: uint32(code)})
		if src.PixelClockMHz != want {
			t.Errorf("code %d: %dMHz, want %d", code, src.PixelClockMHz, want)
		}
	}
}

func TestDecodeZeroSnapshot(t *testing.T) {
	// All-zero registers still decode
	src := Decode(Snapshot{})
	if src.HorizTotal != 2 || src.VertTotal != 1 || src.XRes != 0 {
		t.Errorf("Decode(zero) = %+v", src)
	}
}

func TestRegOutOfRange(t *testing.T) {
	m := regport.NewMemory(128)
	m.Poke(0x100/4, 0x1234)
	if got := Reg(m, 0x100); got != 0 {
		t.Errorf("Reg(0x100) = 0x%x, want 0", got)
	}
	if m.Reads(0x100/4) != 0 {
		t.Error("Reg should not touch the port past the register file")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	modes := []timing.SourceTiming{
		{XRes: 320, YRes: 256, BppLog2: 3, PixelClockMHz: 8,
			HFrontPorch: 19, HSyncWidth: 38, HBackPorch: 135,
			VFrontPorch: 37, VSyncWidth: 3, VBackPorch: 16},
		{XRes: 640, YRes: 480, BppLog2: 2, PixelClockMHz: 24,
			HFrontPorch: 17, HSyncWidth: 96, HBackPorch: 47,
			VFrontPorch: 11, VSyncWidth: 2, VBackPorch: 32},
		{XRes: 288, YRes: 896, BppLog2: 2, PixelClockMHz: 24,
			HFrontPorch: 17, HSyncWidth: 40, HBackPorch: 47,
			VFrontPorch: 4, VSyncWidth: 3, VBackPorch: 47},
	}

	for _, src := range modes {
		snap, err := Encode(src)
		if err != nil {
			t.Fatalf("Encode(%v): %v", src, err)
		}
		m := regport.NewMemory(RegisterFileBytes / 4)
		WriteSnapshot(m, snap)
		got := Decode(ReadSnapshot(m))

		src.HorizTotal = src.XRes + src.HFrontPorch + src.HSyncWidth + src.HBackPorch
		src.VertTotal = src.YRes + src.VFrontPorch + src.VSyncWidth + src.VBackPorch
		src.DisplayStart = src.HSyncWidth + src.HBackPorch
		if got != src {
			t.Errorf("round trip = %+v\nwant %+v", got, src)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  timing.SourceTiming
	}{
		{"bad clock", timing.SourceTiming{PixelClockMHz: 25, HSyncWidth: 2, VSyncWidth: 1}},
		{"odd sync", timing.SourceTiming{PixelClockMHz: 8, HSyncWidth: 3, VSyncWidth: 1}},
		{"odd start", timing.SourceTiming{PixelClockMHz: 8, BppLog2: 3, HSyncWidth: 38, HBackPorch: 134, VSyncWidth: 1}},
		{"no vsync", timing.SourceTiming{PixelClockMHz: 8, BppLog2: 3, HSyncWidth: 38, HBackPorch: 135}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.src); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeControl(t *testing.T) {
	c := DecodeControl(0x4000 | ControlComposite | ControlInterlace | 2<<ControlDMAShift | 3<<ControlBppShift | 1)
	if c.TestMode != 1 || !c.Composite || !c.Interlace || c.DMARate != 2 || c.BppLog2 != 3 || c.ClockCode != 1 {
		t.Errorf("DecodeControl() = %+v", c)
	}
	if s := c.String(); !strings.Contains(s, "TM0") || !strings.Contains(s, "BPP 8") {
		t.Errorf("String() = %q", s)
	}
}
