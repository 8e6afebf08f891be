// Package timing classifies a decoded source video mode and synthesizes the
// matching output timing.
//
// All arithmetic is unsigned 32-bit integer arithmetic with truncating
// division, matching the paired output hardware bit for bit. Degenerate input
// wraps rather than failing.
package timing

import (
	"fmt"
	"strings"
)

// SourceTiming is the geometry of the mode the source controller is
// generating, in pixels and lines
type SourceTiming struct {
	XRes          uint32 `json:"xres" yaml:"xres"`
	YRes          uint32 `json:"yres" yaml:"yres"`
	BppLog2       uint32 `json:"bpp_log2" yaml:"bpp_log2"`
	PixelClockMHz uint32 `json:"pixel_clock_mhz" yaml:"pixel_clock_mhz"`
	HFrontPorch   uint32 `json:"h_front_porch" yaml:"h_front_porch"`
	HSyncWidth    uint32 `json:"h_sync_width" yaml:"h_sync_width"`
	HBackPorch    uint32 `json:"h_back_porch" yaml:"h_back_porch"`
	VFrontPorch   uint32 `json:"v_front_porch" yaml:"v_front_porch"`
	VSyncWidth    uint32 `json:"v_sync_width" yaml:"v_sync_width"`
	VBackPorch    uint32 `json:"v_back_porch" yaml:"v_back_porch"`
	HorizTotal    uint32 `json:"horiz_total" yaml:"horiz_total"`
	VertTotal     uint32 `json:"vert_total" yaml:"vert_total"`

	// DisplayStart is the pixel position of the first active pixel in a
	// line, measured from the start of horizontal sync
	DisplayStart uint32 `json:"display_start" yaml:"display_start"`
}

// FrameRate returns the frame rate in Hz. It is only a diagnostic and is
// reported as unknown when either total is zero.
func (s SourceTiming) FrameRate() (uint32, bool) {
	if s.HorizTotal == 0 || s.VertTotal == 0 {
		return 0, false
	}
	return s.PixelClockMHz * 1000000 / (s.HorizTotal * s.VertTotal), true
}

func (s SourceTiming) String() string {
	rate := "unknown"
	if hz, ok := s.FrameRate(); ok {
		rate = fmt.Sprintf("%dHz", hz)
	}
	return fmt.Sprintf("%dx%d, %dbpp: hfp %d, hsw %d, hbp %d (%d total); "+
		"vfp %d, vsw %d, vbp %d (%d total, frame %s pclk %dMHz)",
		s.XRes, s.YRes, 1<<(s.BppLog2&7),
		s.HFrontPorch, s.HSyncWidth, s.HBackPorch,
		s.XRes+s.HFrontPorch+s.HSyncWidth+s.HBackPorch,
		s.VFrontPorch, s.VSyncWidth, s.VBackPorch,
		s.YRes+s.VFrontPorch+s.VSyncWidth+s.VBackPorch,
		rate, s.PixelClockMHz)
}

// OutputTiming is the timing to program into the output stage
type OutputTiming struct {
	XRes          uint32 `json:"xres" yaml:"xres"`
	YRes          uint32 `json:"yres" yaml:"yres"`
	BppLog2       uint32 `json:"bpp_log2" yaml:"bpp_log2"`
	PixelClockMHz uint32 `json:"pixel_clock_mhz" yaml:"pixel_clock_mhz"`
	HFrontPorch   uint32 `json:"h_front_porch" yaml:"h_front_porch"`
	HSyncWidth    uint32 `json:"h_sync_width" yaml:"h_sync_width"`
	HBackPorch    uint32 `json:"h_back_porch" yaml:"h_back_porch"`
	VFrontPorch   uint32 `json:"v_front_porch" yaml:"v_front_porch"`
	VSyncWidth    uint32 `json:"v_sync_width" yaml:"v_sync_width"`
	VBackPorch    uint32 `json:"v_back_porch" yaml:"v_back_porch"`
	HorizTotal    uint32 `json:"horiz_total" yaml:"horiz_total"`
	VertTotal     uint32 `json:"vert_total" yaml:"vert_total"`

	DoubleX            bool   `json:"double_x" yaml:"double_x"`
	DoubleY            bool   `json:"double_y" yaml:"double_y"`
	Hires              bool   `json:"hires" yaml:"hires"`
	CursorXOffset      uint32 `json:"cursor_x_offset" yaml:"cursor_x_offset"`
	WordsPerLineMinus1 uint32 `json:"words_per_line_minus1" yaml:"words_per_line_minus1"`
}

func (o OutputTiming) String() string {
	var flags []string
	if o.DoubleX {
		flags = append(flags, "double-x")
	}
	if o.DoubleY {
		flags = append(flags, "double-y")
	}
	if o.Hires {
		flags = append(flags, "hires")
	}
	f := ""
	if len(flags) > 0 {
		f = " [" + strings.Join(flags, ",") + "]"
	}
	return fmt.Sprintf("%dx%d%s: hfp %d, hsw %d, hbp %d (%d total); vfp %d, vsw %d, vbp %d (%d total); "+
		"wpl-1 %d, cursor 0x%x, bpp %d",
		o.XRes, o.YRes, f,
		o.HFrontPorch, o.HSyncWidth, o.HBackPorch, o.HorizTotal,
		o.VFrontPorch, o.VSyncWidth, o.VBackPorch, o.VertTotal,
		o.WordsPerLineMinus1, o.CursorXOffset, 1<<(o.BppLog2&7))
}

// Mode is a retiming strategy
type Mode int

const (
	// HiresMono is the source chip's high sample rate monochrome mode
	HiresMono Mode = iota

	// DirectVga is a geometry the output core handles natively
	DirectVga

	// YDoubled outputs every line twice
	YDoubled

	// XYDoubled outputs every line and every pixel twice
	XYDoubled

	// Unsupported geometry is applied verbatim
	Unsupported
)

var modeNames = map[Mode]string{
	HiresMono:   "hires-mono",
	DirectVga:   "direct-vga",
	YDoubled:    "y-doubled",
	XYDoubled:   "xy-doubled",
	Unsupported: "unsupported",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode returns the mode with the given name
func ParseMode(name string) (Mode, error) {
	for m, s := range modeNames {
		if s == name {
			return m, nil
		}
	}
	return Unsupported, fmt.Errorf("unknown mode %q", name)
}
