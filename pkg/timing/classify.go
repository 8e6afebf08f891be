package timing

import "github.com/mscrnt/vidbridge/pkg/diag"

// Classify maps a source timing to a retiming strategy. Rules are tried in
// order and the first match wins; feasibility is not considered here.
func Classify(src SourceTiming) Mode {
	switch {
	case src.PixelClockMHz == 24 && src.BppLog2 == 2 && src.XRes < src.YRes/2:
		return HiresMono
	case src.XRes >= DirectMinXRes && src.YRes >= DirectMinYRes:
		return DirectVga
	case src.XRes >= DirectMinXRes && src.YRes < DirectMinYRes:
		return YDoubled
	case src.XRes < DirectMinXRes && src.YRes < DirectMinYRes:
		return XYDoubled
	default:
		return Unsupported
	}
}

// DoubledTotal returns the horizontal total, in output pixels, of a line
// re-clocked at DoubledClockMHz. It is zero when the pixel clock is unknown.
func DoubledTotal(src SourceTiming) uint32 {
	if src.PixelClockMHz == 0 {
		return 0
	}
	return src.HorizTotal * DoubledClockMHz / src.PixelClockMHz / 2
}

// Feasible reports whether a doubling strategy can be applied to src. Modes
// other than YDoubled and XYDoubled are always feasible. The returned reason
// is empty when feasible.
//
// The blanking budget is checked against the output line width, so an
// XYDoubled source must leave room for twice its own width.
func Feasible(src SourceTiming, mode Mode) (bool, string) {
	if mode != YDoubled && mode != XYDoubled {
		return true, ""
	}
	if src.PixelClockMHz == DoubledClockMHz {
		return false, "pixel clock already at 24MHz"
	}
	if src.PixelClockMHz == 0 {
		return false, "pixel clock unknown"
	}

	width := src.XRes
	if mode == XYDoubled {
		width *= 2
	}
	total := DoubledTotal(src)
	if total < width+width/MinBlankingDivisor {
		return false, "horizontal blanking too short"
	}
	return true, ""
}

// Plan classifies src and applies the feasibility downgrade, returning the
// strategy to synthesize along with any diagnostics raised on the way
func Plan(src SourceTiming) (Mode, []diag.Event) {
	mode := Classify(src)
	switch mode {
	case Unsupported:
		return mode, []diag.Event{diag.New(diag.UnsupportedMode,
			"%dx%d @%dMHz matches no retiming; applying verbatim", src.XRes, src.YRes, src.PixelClockMHz)}
	case YDoubled, XYDoubled:
		if ok, reason := Feasible(src, mode); !ok {
			return DirectVga, []diag.Event{diag.New(diag.Infeasible,
				"%s not possible for %dx%d @%dMHz (%s); using source timing",
				mode, src.XRes, src.YRes, src.PixelClockMHz, reason)}
		}
	}
	return mode, nil
}
