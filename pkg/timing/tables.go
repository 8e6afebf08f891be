package timing

// Pixel clock rates selected by the two-bit clock code of the source
// controller's control register
var PixelClockMHz = [4]uint32{8, 12, 16, 24}

// Pipeline delay of the source controller, in pixels, between the
// programmed display start and the first visible pixel. It depends on the
// colour depth.
var displayStartOffset = [4]uint32{19, 11, 7, 5}

// DisplayStartOffset returns the horizontal display offset for a colour
// depth. Depths the source controller cannot generate have no offset.
func DisplayStartOffset(bppLog2 uint32) uint32 {
	if bppLog2 >= uint32(len(displayStartOffset)) {
		return 0
	}
	return displayStartOffset[bppLog2]
}

// ClockForCode returns the pixel clock for a clock code. Only the low two
// bits are significant.
func ClockForCode(code uint32) uint32 {
	return PixelClockMHz[code&3]
}

// Retiming constants. These were tuned against real monitors and are kept
// exactly as tuned.
const (
	// DirectMinXRes and DirectMinYRes are the smallest geometry passed
	// through without doubling
	DirectMinXRes = 640
	DirectMinYRes = 480

	// DoubledClockMHz is the output pixel clock used for doubled modes
	DoubledClockMHz = 24

	// HiresClockMHz is the source chip's internal hires sample rate and
	// HiresReferenceMHz the rate its hires period is expressed against
	HiresClockMHz     = 78
	HiresReferenceMHz = 96

	// HiresCursorOffset is the cursor offset for hires mono
	HiresCursorOffset = 0x12c

	// CursorOffsetBias is subtracted from the display start to get the
	// cursor offset of non-hires modes
	CursorOffsetBias = 6

	// Synthesized front porch and sync are total/FrontPorchDivisor and
	// total/SyncWidthDivisor; the back porch takes the remainder
	FrontPorchDivisor = 20
	SyncWidthDivisor  = 40

	// MinBlankingDivisor sets the smallest acceptable horizontal blanking
	// as xres/MinBlankingDivisor
	MinBlankingDivisor = 32
)

// WordsPerLineMinus1 returns the DMA words per line, minus one, for a line
// of xres pixels at the given depth. An xres that is not a whole number of
// words is truncated.
func WordsPerLineMinus1(xres, bppLog2 uint32) uint32 {
	pixelsPerWord := uint32(32) >> (bppLog2 & 31)
	if pixelsPerWord == 0 {
		pixelsPerWord = 1
	}
	return xres/pixelsPerWord - 1
}
