package timing

import "github.com/mscrnt/vidbridge/pkg/diag"

// Result is the outcome of retiming one source mode
type Result struct {
	// Classified is the strategy the classifier picked and Applied the one
	// actually synthesized after the feasibility check
	Classified  Mode         `json:"classified"`
	Applied     Mode         `json:"applied"`
	Output      OutputTiming `json:"output"`
	Diagnostics []diag.Event `json:"diagnostics,omitempty"`
}

// Retime plans and synthesizes the output timing for src
func Retime(src SourceTiming) Result {
	applied, events := Plan(src)
	out, more := Synthesize(src, applied)
	return Result{
		Classified:  Classify(src),
		Applied:     applied,
		Output:      out,
		Diagnostics: append(events, more...),
	}
}

// Synthesize computes the output timing for src using the given strategy.
// It does not check feasibility; an infeasible doubling wraps.
func Synthesize(src SourceTiming, mode Mode) (OutputTiming, []diag.Event) {
	out := passThrough(src)

	switch mode {
	case HiresMono:
		return hires(src)
	case YDoubled:
		doubleLines(&out)
		splitLine(&out, DoubledTotal(src))
		out.PixelClockMHz = DoubledClockMHz
	case XYDoubled:
		doubleLines(&out)
		out.XRes *= 2
		out.DoubleX = true
		splitLine(&out, DoubledTotal(src))
		out.PixelClockMHz = DoubledClockMHz
	}
	return out, nil
}

// passThrough copies the source geometry unchanged
func passThrough(src SourceTiming) OutputTiming {
	return OutputTiming{
		XRes:               src.XRes,
		YRes:               src.YRes,
		BppLog2:            src.BppLog2,
		PixelClockMHz:      src.PixelClockMHz,
		HFrontPorch:        src.HFrontPorch,
		HSyncWidth:         src.HSyncWidth,
		HBackPorch:         src.HBackPorch,
		VFrontPorch:        src.VFrontPorch,
		VSyncWidth:         src.VSyncWidth,
		VBackPorch:         src.VBackPorch,
		HorizTotal:         src.HorizTotal,
		VertTotal:          src.VertTotal,
		CursorXOffset:      src.DisplayStart - CursorOffsetBias,
		WordsPerLineMinus1: WordsPerLineMinus1(src.XRes, src.BppLog2),
	}
}

func doubleLines(out *OutputTiming) {
	out.YRes *= 2
	out.VFrontPorch *= 2
	out.VSyncWidth *= 2
	out.VBackPorch *= 2
	out.VertTotal = out.YRes + out.VFrontPorch + out.VSyncWidth + out.VBackPorch
	out.DoubleY = true
}

// splitLine divides a line of the given total width into porches and sync
// around the active region
func splitLine(out *OutputTiming, total uint32) {
	out.HorizTotal = total
	out.HFrontPorch = total / FrontPorchDivisor
	out.HSyncWidth = total / SyncWidthDivisor
	out.HBackPorch = total - out.XRes - out.HFrontPorch - out.HSyncWidth
}

func hires(src SourceTiming) (OutputTiming, []diag.Event) {
	var events []diag.Event

	out := passThrough(src)
	out.XRes *= 4

	period := src.HorizTotal * 4 * HiresClockMHz / HiresReferenceMHz
	if back := period * HiresReferenceMHz / HiresClockMHz / 4; back != src.HorizTotal {
		events = append(events, diag.New(diag.PeriodMismatch,
			"hires period %d maps back to %d, not %d", period, back, src.HorizTotal))
	}
	splitLine(&out, period)

	out.BppLog2 = 0
	out.PixelClockMHz = HiresClockMHz
	out.WordsPerLineMinus1 = out.XRes/32 - 1
	out.Hires = true
	out.CursorXOffset = HiresCursorOffset
	return out, events
}
