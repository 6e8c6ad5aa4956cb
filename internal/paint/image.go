package paint

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// View exposes a Paint as a draw.Image in 0-based logical coordinates.
// Unlike DrawPoint, Set writes absolute colours: anything that converts to
// image1bit.On is white (bit set), everything else black.
type View struct {
	p *Paint
}

// Image returns a draw.Image view backed by p's buffer.
func (p *Paint) Image() *View {
	return &View{p: p}
}

func (v *View) ColorModel() color.Model {
	return image1bit.BitModel
}

func (v *View) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.p.width, v.p.height)
}

func (v *View) At(x, y int) color.Color {
	px, py := v.p.physical(x, y, false)
	addr, mask, ok := v.p.index(px, py)
	if !ok || !(image.Point{x, y}).In(v.Bounds()) {
		return color.Transparent
	}
	return image1bit.Bit(v.p.buf[addr]&mask != 0)
}

func (v *View) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}).In(v.Bounds()) {
		return
	}
	px, py := v.p.physical(x, y, false)
	addr, mask, ok := v.p.index(px, py)
	if !ok {
		return
	}
	if image1bit.BitModel.Convert(c).(image1bit.Bit) {
		v.p.buf[addr] |= mask
	} else {
		v.p.buf[addr] &^= mask
	}
}

// foreground is the absolute colour DrawPoint produces on the current
// background.
func (p *Paint) foreground() image1bit.Bit {
	return p.pol == drawOnBlack
}

// WritePNG encodes the logical (rotated) view as a PNG.
func (p *Paint) WritePNG(w io.Writer) error {
	return png.Encode(w, p.Image())
}
