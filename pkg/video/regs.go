// Package video drives the register file of the DMA video output stage:
// committing timings, the sync handshake, and the preset mode table.
package video

import (
	"fmt"

	"github.com/mscrnt/vidbridge/pkg/regport"
	"github.com/mscrnt/vidbridge/pkg/timing"
)

// Register word offsets
const (
	RegResX    = 0
	RegHFP     = 1
	RegHSWidth = 2
	RegHBP     = 3
	RegResY    = 4
	RegVFP     = 5
	RegVSWidth = 6
	RegVBP     = 7
	RegSync    = 8
	RegWPLM1   = 9
	RegCtrl    = 10

	NumRegs = 11
)

// Field layout
const (
	FieldMask = 0x7ff

	// DoubleFlag in RegResX and RegResY outputs each pixel or line twice
	DoubleFlag = 1 << 31

	WPLMask = 0xff

	CtrlHires    = 1 << 31
	CtrlBppShift = 28
	CtrlBppMask  = 0x7
	CursorMask   = 0x7ff
)

// Registers holds the raw timing register words
type Registers struct {
	ResX    uint32 `json:"res_x"`
	HFP     uint32 `json:"h_fp"`
	HSWidth uint32 `json:"h_sw"`
	HBP     uint32 `json:"h_bp"`
	ResY    uint32 `json:"res_y"`
	VFP     uint32 `json:"v_fp"`
	VSWidth uint32 `json:"v_sw"`
	VBP     uint32 `json:"v_bp"`
	WPLM1   uint32 `json:"wplm1"`
	Ctrl    uint32 `json:"ctrl"`
}

func flag(b bool, bit uint32) uint32 {
	if b {
		return bit
	}
	return 0
}

// Pack converts a timing to register words. Fields are truncated to their
// register widths.
func Pack(out timing.OutputTiming) Registers {
	return Registers{
		ResX:    out.XRes&FieldMask | flag(out.DoubleX, DoubleFlag),
		HFP:     out.HFrontPorch & FieldMask,
		HSWidth: out.HSyncWidth & FieldMask,
		HBP:     out.HBackPorch & FieldMask,
		ResY:    out.YRes&FieldMask | flag(out.DoubleY, DoubleFlag),
		VFP:     out.VFrontPorch & FieldMask,
		VSWidth: out.VSyncWidth & FieldMask,
		VBP:     out.VBackPorch & FieldMask,
		WPLM1:   out.WordsPerLineMinus1 & WPLMask,
		Ctrl: out.CursorXOffset&CursorMask |
			flag(out.Hires, CtrlHires) |
			(out.BppLog2&CtrlBppMask)<<CtrlBppShift,
	}
}

// Unpack converts register words back to a timing. Totals are the sums of
// their parts; the pixel clock is not held in a register and is left zero.
func (r Registers) Unpack() timing.OutputTiming {
	out := timing.OutputTiming{
		XRes:               r.ResX & FieldMask,
		DoubleX:            r.ResX&DoubleFlag != 0,
		HFrontPorch:        r.HFP & FieldMask,
		HSyncWidth:         r.HSWidth & FieldMask,
		HBackPorch:         r.HBP & FieldMask,
		YRes:               r.ResY & FieldMask,
		DoubleY:            r.ResY&DoubleFlag != 0,
		VFrontPorch:        r.VFP & FieldMask,
		VSyncWidth:         r.VSWidth & FieldMask,
		VBackPorch:         r.VBP & FieldMask,
		WordsPerLineMinus1: r.WPLM1 & WPLMask,
		CursorXOffset:      r.Ctrl & CursorMask,
		Hires:              r.Ctrl&CtrlHires != 0,
		BppLog2:            (r.Ctrl >> CtrlBppShift) & CtrlBppMask,
	}
	out.HorizTotal = out.XRes + out.HFrontPorch + out.HSyncWidth + out.HBackPorch
	out.VertTotal = out.YRes + out.VFrontPorch + out.VSyncWidth + out.VBackPorch
	return out
}

func (r Registers) String() string {
	return fmt.Sprintf("X width 0x%x, front porch 0x%x, width 0x%x, back porch 0x%x, DMA words per line-1 0x%x\n"+
		"Y height 0x%x, front porch 0x%x, width 0x%x, back porch 0x%x\n"+
		"Cursor X offset 0x%x, BPP %d, hires %t",
		r.ResX, r.HFP, r.HSWidth, r.HBP, r.WPLM1,
		r.ResY, r.VFP, r.VSWidth, r.VBP,
		r.Ctrl&CursorMask, 1<<((r.Ctrl>>CtrlBppShift)&CtrlBppMask), r.Ctrl&CtrlHires != 0)
}

// Write stores all ten timing registers. The group is not atomic; the output
// stage latches at a frame boundary after the next sync.
func (r Registers) Write(port regport.Port) {
	port.Write(RegResX, r.ResX)
	port.Write(RegHFP, r.HFP)
	port.Write(RegHSWidth, r.HSWidth)
	port.Write(RegHBP, r.HBP)
	port.Write(RegResY, r.ResY)
	port.Write(RegVFP, r.VFP)
	port.Write(RegVSWidth, r.VSWidth)
	port.Write(RegVBP, r.VBP)
	port.Write(RegWPLM1, r.WPLM1)
	port.Write(RegCtrl, r.Ctrl)
}

// ReadRegisters reads back the timing registers
func ReadRegisters(port regport.Port) Registers {
	return Registers{
		ResX:    port.Read(RegResX),
		HFP:     port.Read(RegHFP),
		HSWidth: port.Read(RegHSWidth),
		HBP:     port.Read(RegHBP),
		ResY:    port.Read(RegResY),
		VFP:     port.Read(RegVFP),
		VSWidth: port.Read(RegVSWidth),
		VBP:     port.Read(RegVBP),
		WPLM1:   port.Read(RegWPLM1),
		Ctrl:    port.Read(RegCtrl),
	}
}

// Commit writes a timing to the output registers. It does not sync.
func Commit(port regport.Port, out timing.OutputTiming) Registers {
	regs := Pack(out)
	regs.Write(port)
	return regs
}

// SetHorizontal writes the horizontal timing registers verbatim. xres is the
// whole RegResX word, so the caller controls the doubling flag.
func SetHorizontal(port regport.Port, xres, fp, sw, bp, wplm1 uint32) {
	port.Write(RegResX, xres)
	port.Write(RegHFP, fp)
	port.Write(RegHSWidth, sw)
	port.Write(RegHBP, bp)
	port.Write(RegWPLM1, wplm1)
}

// SetVertical writes the vertical timing registers verbatim. yres is the
// whole RegResY word.
func SetVertical(port regport.Port, yres, fp, sw, bp uint32) {
	port.Write(RegResY, yres)
	port.Write(RegVFP, fp)
	port.Write(RegVSWidth, sw)
	port.Write(RegVBP, bp)
}

// SetCursorOffset replaces the cursor offset field of the control register,
// keeping the hires and depth fields
func SetCursorOffset(port regport.Port, offset uint32) {
	ctrl := port.Read(RegCtrl)
	port.Write(RegCtrl, ctrl&^CursorMask|offset&CursorMask)
}
