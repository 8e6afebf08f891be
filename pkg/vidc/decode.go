package vidc

import (
	"fmt"

	"github.com/mscrnt/vidbridge/pkg/timing"
)

// Decode converts a register snapshot into source geometry. Every snapshot
// decodes; implausible register values give implausible geometry, left for
// the classifier to deal with.
func Decode(s Snapshot) timing.SourceTiming {
	bpp := s.BppLog2()
	offset := timing.DisplayStartOffset(bpp)

	hcr := (s.HCycle>>FieldShift)*2 + 2
	hsw := (s.HSync>>FieldShift)*2 + 2
	hdsr := (s.HDisplayStart>>FieldShift)*2 + offset
	hder := (s.HDisplayEnd>>FieldShift)*2 + offset
	vcr := (s.VCycle >> FieldShift) + 1
	vsw := (s.VSync >> FieldShift) + 1
	vdsr := (s.VDisplayStart >> FieldShift) + 1
	vder := (s.VDisplayEnd >> FieldShift) + 1

	return timing.SourceTiming{
		XRes:          hder - hdsr,
		YRes:          vder - vdsr,
		BppLog2:       bpp,
		PixelClockMHz: timing.ClockForCode(s.ClockCode()),
		HFrontPorch:   hcr - hder,
		HSyncWidth:    hsw,
		HBackPorch:    hdsr - hsw,
		VFrontPorch:   vcr - vder,
		VSyncWidth:    vsw,
		VBackPorch:    vdsr - vsw,
		HorizTotal:    hcr,
		VertTotal:     vcr,
		DisplayStart:  hdsr,
	}
}

// Encode produces the register values that decode to src. Horizontal
// positions must land on the two pixel register granularity. The totals and
// display start of src are ignored and rebuilt from the porches.
func Encode(src timing.SourceTiming) (Snapshot, error) {
	code, ok := clockCode(src.PixelClockMHz)
	if !ok {
		return Snapshot{}, fmt.Errorf("no clock code for %dMHz", src.PixelClockMHz)
	}
	if src.BppLog2 > ControlBppMask {
		return Snapshot{}, fmt.Errorf("bpp log2 %d out of range", src.BppLog2)
	}
	offset := timing.DisplayStartOffset(src.BppLog2)

	hsw := src.HSyncWidth
	hdsr := hsw + src.HBackPorch
	hder := hdsr + src.XRes
	hcr := hder + src.HFrontPorch
	if hsw < 2 || hsw%2 != 0 || hcr%2 != 0 {
		return Snapshot{}, fmt.Errorf("horizontal sync %d and total %d must be even and at least 2", hsw, hcr)
	}
	if hdsr < offset || (hdsr-offset)%2 != 0 || src.XRes%2 != 0 {
		return Snapshot{}, fmt.Errorf("display start %d not reachable at %dbpp", hdsr, 1<<src.BppLog2)
	}

	vsw := src.VSyncWidth
	vdsr := vsw + src.VBackPorch
	vder := vdsr + src.YRes
	vcr := vder + src.VFrontPorch
	if vsw < 1 {
		return Snapshot{}, fmt.Errorf("vertical sync width must be at least 1")
	}

	return Snapshot{
		HCycle:        ((hcr - 2) / 2) << FieldShift,
		HSync:         ((hsw - 2) / 2) << FieldShift,
		HDisplayStart: ((hdsr - offset) / 2) << FieldShift,
		HDisplayEnd:   ((hder - offset) / 2) << FieldShift,
		VCycle:        (vcr - 1) << FieldShift,
		VSync:         (vsw - 1) << FieldShift,
		VDisplayStart: (vdsr - 1) << FieldShift,
		VDisplayEnd:   (vder - 1) << FieldShift,
		Control:       src.BppLog2<<ControlBppShift | code,
	}, nil
}

func clockCode(mhz uint32) (uint32, bool) {
	for code, rate := range timing.PixelClockMHz {
		if rate == mhz {
			return uint32(code), true
		}
	}
	return 0, false
}
