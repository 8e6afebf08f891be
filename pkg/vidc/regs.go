// Package vidc reads and decodes the timing registers of the source video
// controller
package vidc

import (
	"fmt"

	"github.com/mscrnt/vidbridge/pkg/regport"
)

// Register addresses, as byte offsets into the captured register file
const (
	PaletteBase       = 0x00
	BorderColour      = 0x40
	CursorPalette1    = 0x44
	CursorPalette2    = 0x48
	CursorPalette3    = 0x4c
	Special           = 0x50
	SpecialData       = 0x54
	HCycle            = 0x80
	HSync             = 0x84
	HBorderStart      = 0x88
	HDisplayStart     = 0x8c
	HDisplayEnd       = 0x90
	HBorderEnd        = 0x94
	HCursorStart      = 0x98
	HInterlace        = 0x9c
	VCycle            = 0xa0
	VSync             = 0xa4
	VBorderStart      = 0xa8
	VDisplayStart     = 0xac
	VDisplayEnd       = 0xb0
	VBorderEnd        = 0xb4
	VCursorStart      = 0xb8
	VCursorEnd        = 0xbc
	SoundFrequency    = 0xc0
	Control           = 0xe0
	RegisterFileBytes = 0x100
)

// Timing fields sit at bit 14 of their register
const FieldShift = 14

// Control register fields
const (
	ControlClockMask = 0x3
	ControlBppShift  = 2
	ControlBppMask   = 0x3
	ControlDMAShift  = 4
	ControlInterlace = 1 << 6
	ControlComposite = 1 << 7
	ControlTM3       = 1 << 8
	ControlTestShift = 14
)

// Reg reads a source register by byte address. Addresses past the captured
// register file read as zero.
func Reg(port regport.Port, addr uint32) uint32 {
	if addr >= RegisterFileBytes {
		return 0
	}
	return port.Read(addr / 4)
}

// Snapshot is the raw content of the timing registers
type Snapshot struct {
	HCycle        uint32 `json:"h_cycle"`
	HSync         uint32 `json:"h_sync"`
	HDisplayStart uint32 `json:"h_display_start"`
	HDisplayEnd   uint32 `json:"h_display_end"`
	VCycle        uint32 `json:"v_cycle"`
	VSync         uint32 `json:"v_sync"`
	VDisplayStart uint32 `json:"v_display_start"`
	VDisplayEnd   uint32 `json:"v_display_end"`
	Control       uint32 `json:"control"`
}

// ReadSnapshot captures the timing registers from port
func ReadSnapshot(port regport.Port) Snapshot {
	return Snapshot{
		Control:       Reg(port, Control),
		HCycle:        Reg(port, HCycle),
		HSync:         Reg(port, HSync),
		HDisplayStart: Reg(port, HDisplayStart),
		HDisplayEnd:   Reg(port, HDisplayEnd),
		VCycle:        Reg(port, VCycle),
		VSync:         Reg(port, VSync),
		VDisplayStart: Reg(port, VDisplayStart),
		VDisplayEnd:   Reg(port, VDisplayEnd),
	}
}

// WriteSnapshot stores a snapshot into a register file. It is used to
// replay a captured mode into a simulated source.
func WriteSnapshot(port regport.Port, s Snapshot) {
	port.Write(HCycle/4, s.HCycle)
	port.Write(HSync/4, s.HSync)
	port.Write(HDisplayStart/4, s.HDisplayStart)
	port.Write(HDisplayEnd/4, s.HDisplayEnd)
	port.Write(VCycle/4, s.VCycle)
	port.Write(VSync/4, s.VSync)
	port.Write(VDisplayStart/4, s.VDisplayStart)
	port.Write(VDisplayEnd/4, s.VDisplayEnd)
	port.Write(Control/4, s.Control)
}

// ClockCode returns the pixel clock code
func (s Snapshot) ClockCode() uint32 {
	return s.Control & ControlClockMask
}

// BppLog2 returns the log2 of the bits per pixel
func (s Snapshot) BppLog2() uint32 {
	return (s.Control >> ControlBppShift) & ControlBppMask
}

// ControlInfo is the decoded control register
type ControlInfo struct {
	TestMode  uint32 `json:"test_mode"`
	TM3       bool   `json:"tm3"`
	Composite bool   `json:"composite_sync"`
	Interlace bool   `json:"interlace"`
	DMARate   uint32 `json:"dma_request"`
	BppLog2   uint32 `json:"bpp_log2"`
	ClockCode uint32 `json:"clock_code"`
}

var testModes = [4]string{"Normal", "TM0", "TM1", "TM2"}

// DecodeControl splits the control register into its fields
func DecodeControl(cr uint32) ControlInfo {
	return ControlInfo{
		TestMode:  (cr >> ControlTestShift) & 3,
		TM3:       cr&ControlTM3 != 0,
		Composite: cr&ControlComposite != 0,
		Interlace: cr&ControlInterlace != 0,
		DMARate:   (cr >> ControlDMAShift) & 3,
		BppLog2:   (cr >> ControlBppShift) & ControlBppMask,
		ClockCode: cr & ControlClockMask,
	}
}

func (c ControlInfo) String() string {
	mode := testModes[c.TestMode&3]
	if c.TM3 {
		mode += ", TM3"
	}
	sync := "V"
	if c.Composite {
		sync = "Composite"
	}
	il := "Off"
	if c.Interlace {
		il = "On"
	}
	return fmt.Sprintf("%s, %sSync, Interlace %s, DMARq %d, BPP %d, PixClk %d",
		mode, sync, il, c.DMARate, 1<<c.BppLog2, c.ClockCode)
}

func field(v uint32) uint32 {
	return (v >> FieldShift) & 0x3ff
}

// String formats the display registers the way the bridge console prints
// them
func (s Snapshot) String() string {
	return fmt.Sprintf("Display Horizontal:\tCycle %3x, Sync %3x, Dst %3x, Dend %3x\n"+
		"Display Vertical:\tCycle %3x, Sync %3x, Dst %3x, Dend %3x\n"+
		"Display control:\t%s",
		field(s.HCycle), field(s.HSync), field(s.HDisplayStart), field(s.HDisplayEnd),
		field(s.VCycle), field(s.VSync), field(s.VDisplayStart), field(s.VDisplayEnd),
		DecodeControl(s.Control))
}
