package paint

// Screen describes the physical panel resolution and its packed 1bpp layout.
type Screen struct {
	Width  int // pixels along a RAM row
	Height int // RAM rows
}

// SSD1680 is the 2.9" 128x296 panel driven by internal/epd.
var SSD1680 = Screen{Width: 128, Height: 296}

// WidthBytes is the number of bytes per RAM row, ceil(Width/8).
func (s Screen) WidthBytes() int {
	return (s.Width + 7) / 8
}

// HeightBytes is the number of RAM rows.
func (s Screen) HeightBytes() int {
	return s.Height
}

// Size is the packed framebuffer length in bytes.
func (s Screen) Size() int {
	return s.WidthBytes() * s.HeightBytes()
}

// Color is a background/fill colour, replicated over all 8 pixels of a byte.
type Color byte

const (
	Black Color = 0x00
	White Color = 0xFF
)

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Rotation maps logical drawing coordinates onto the physical RAM layout.
type Rotation uint8

const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

func (r Rotation) String() string {
	switch r % 4 {
	case Rotate90:
		return "90°"
	case Rotate180:
		return "180°"
	case Rotate270:
		return "270°"
	default:
		return "0°"
	}
}

// RotationFromDegrees converts 0, 90, 180 or 270 into a Rotation.
func RotationFromDegrees(deg int) (Rotation, bool) {
	switch deg {
	case 0:
		return Rotate0, true
	case 90:
		return Rotate90, true
	case 180:
		return Rotate180, true
	case 270:
		return Rotate270, true
	}
	return Rotate0, false
}
