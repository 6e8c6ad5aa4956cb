// Package paint implements the packed 1bpp framebuffer of a bi-level e-paper
// panel and the primitives that rasterize into it.
//
// Drawing always writes the foreground relative to the current background:
// on a white background a drawn pixel clears its bit, on a black background
// it sets it. Coordinates that land outside the panel after rotation are
// clipped silently.
package paint

import (
	"errors"
	"math"
)

// ErrNotImplemented is returned by ShowImg.
var ErrNotImplemented = errors.New("paint: image files are not supported")

// polarity records how a drawn pixel is written, resolved by Fill.
type polarity uint8

const (
	drawOnWhite polarity = iota // drawn pixel clears the bit
	drawOnBlack                 // drawn pixel sets the bit
)

// Opts configures a Paint.
type Opts struct {
	Rotation   Rotation
	Background Color
	// ZeroBased selects 0-based logical coordinates for the drawing
	// primitives. The default is 1-based.
	ZeroBased bool
}

// DefaultOpts matches the orientation the SSD1680 driver uses.
var DefaultOpts = Opts{
	Rotation:   Rotate90,
	Background: White,
}

// Paint is a packed framebuffer with rotation and background state.
type Paint struct {
	screen    Screen
	buf       []byte
	rotation  Rotation
	bg        Color
	pol       polarity
	zeroBased bool

	// Logical size after rotation.
	width  int
	height int
}

// New allocates a zeroed framebuffer for s. opts may be nil to use
// DefaultOpts. The buffer is not filled; call Fill or Clear first.
func New(s Screen, opts *Opts) *Paint {
	if opts == nil {
		opts = &DefaultOpts
	}
	p := &Paint{
		screen:    s,
		buf:       make([]byte, s.Size()),
		rotation:  opts.Rotation % 4,
		zeroBased: opts.ZeroBased,
	}
	p.setBackground(opts.Background)

	switch p.rotation {
	case Rotate0, Rotate180:
		p.width, p.height = s.Width, s.Height
	default:
		p.width, p.height = s.Height, s.Width
	}
	return p
}

func (p *Paint) setBackground(c Color) {
	p.bg = c
	if c == White {
		p.pol = drawOnWhite
	} else {
		p.pol = drawOnBlack
	}
}

// Screen returns the physical geometry.
func (p *Paint) Screen() Screen { return p.screen }

// Rotation returns the active rotation.
func (p *Paint) Rotation() Rotation { return p.rotation }

// Background returns the colour set by the last Fill.
func (p *Paint) Background() Color { return p.bg }

// Width is the logical width after rotation.
func (p *Paint) Width() int { return p.width }

// Height is the logical height after rotation.
func (p *Paint) Height() int { return p.height }

// Bytes returns the packed buffer. Callers must not modify it.
func (p *Paint) Bytes() []byte { return p.buf }

// Fill sets the background colour and overwrites every byte with it.
func (p *Paint) Fill(c Color) {
	p.setBackground(c)
	for i := range p.buf {
		p.buf[i] = byte(c)
	}
}

// Clear fills the buffer white.
func (p *Paint) Clear() {
	p.Fill(White)
}

// physical maps logical (x, y) onto RAM coordinates. The 1-based shift is
// applied after rotation.
func (p *Paint) physical(x, y int, oneBased bool) (int, int) {
	w, h := p.screen.Width, p.screen.Height
	switch p.rotation {
	case Rotate90:
		x, y = w-y-1, x
	case Rotate180:
		x, y = w-x-1, h-y-1
	case Rotate270:
		x, y = y, h-x-1
	}
	if oneBased {
		x--
		y--
	}
	return x, y
}

// index returns the byte offset and bit mask of a physical pixel, or
// ok=false when it is off the panel.
func (p *Paint) index(x, y int) (int, byte, bool) {
	if x < 0 || y < 0 || x >= p.screen.Width || y >= p.screen.Height {
		return 0, 0, false
	}
	return x/8 + y*p.screen.WidthBytes(), byte(0x80) >> uint(x%8), true
}

// DrawPoint plots one foreground pixel at logical (x, y).
func (p *Paint) DrawPoint(x, y int) {
	px, py := p.physical(x, y, !p.zeroBased)
	addr, mask, ok := p.index(px, py)
	if !ok {
		return
	}
	if p.pol == drawOnWhite {
		p.buf[addr] &^= mask
	} else {
		p.buf[addr] |= mask
	}
}

// DrawLine rasterizes the segment between both endpoints, inclusive. The
// axis with the larger delta is stepped one pixel at a time; the other
// coordinate is interpolated and rounded half to even.
func (p *Paint) DrawLine(x0, y0, x1, y1 int) {
	dx, dy := x1-x0, y1-y0
	if dx == 0 && dy == 0 {
		p.DrawPoint(x0, y0)
		return
	}

	if abs(dx) > abs(dy) {
		step := sign(dx)
		slope := float64(dy) / float64(dx)
		for i, off := 0, 0; i <= abs(dx); i, off = i+1, off+step {
			p.DrawPoint(x0+off, y0+roundHalfEven(slope*float64(off)))
		}
		return
	}

	step := sign(dy)
	slope := float64(dx) / float64(dy)
	for i, off := 0, 0; i <= abs(dy); i, off = i+1, off+step {
		p.DrawPoint(x0+roundHalfEven(slope*float64(off)), y0+off)
	}
}

// DrawRectangle draws the outline of the axis-aligned rectangle spanned by
// both corners.
func (p *Paint) DrawRectangle(x0, y0, x1, y1 int) {
	p.DrawLine(x0, y0, x0, y1)
	p.DrawLine(x0, y0, x1, y0)
	p.DrawLine(x0, y1, x1, y1)
	p.DrawLine(x1, y0, x1, y1)
}

// DrawCircle plots an approximate circle by sweeping both axes over
// [c-r, c+r) and solving for the other coordinate. Points may be plotted
// twice.
func (p *Paint) DrawCircle(cx, cy, r int) {
	for x := cx - r; x < cx+r; x++ {
		d := roundHalfEven(math.Sqrt(float64(r*r - (x-cx)*(x-cx))))
		p.DrawPoint(x, cy+d)
		p.DrawPoint(x, cy-d)
	}
	for y := cy - r; y < cy+r; y++ {
		d := roundHalfEven(math.Sqrt(float64(r*r - (y-cy)*(y-cy))))
		p.DrawPoint(cx+d, y)
		p.DrawPoint(cx-d, y)
	}
}

// ShowBitmap draws every 1 cell of bitmap with its top-left corner at (x, y),
// each cell scaled to a multiplier x multiplier block.
func (p *Paint) ShowBitmap(bitmap [][]byte, x, y, multiplier int) {
	if multiplier == 1 {
		for r, row := range bitmap {
			for c, v := range row {
				if v == 1 {
					p.DrawPoint(x+c, y+r)
				}
			}
		}
		return
	}
	if multiplier < 1 || len(bitmap) == 0 {
		return
	}

	cols := len(bitmap[0]) * multiplier
	for r := 0; r < len(bitmap)*multiplier; r++ {
		row := bitmap[r/multiplier]
		for c := 0; c < cols; c++ {
			if sc := c / multiplier; sc < len(row) && row[sc] == 1 {
				p.DrawPoint(x+c, y+r)
			}
		}
	}
}

// ShowImg is not supported.
func (p *Paint) ShowImg(path string, x, y int) error {
	return ErrNotImplemented
}

func roundHalfEven(f float64) int {
	return int(math.RoundToEven(f))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
