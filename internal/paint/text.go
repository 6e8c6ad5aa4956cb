package paint

import (
	"image"

	xfont "golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"ssd1680/internal/fonts"
)

// ShowChar draws the glyph for r with its top-left corner at (x, y). A nil
// font selects fonts.ASCII0806. Each glyph pixel becomes a
// multiplier x multiplier block; a multiplier below 1 draws nothing.
func (p *Paint) ShowChar(r rune, x, y int, font *fonts.Font, multiplier int) error {
	if font == nil {
		font = fonts.ASCII0806
	}
	cols, err := font.Glyph(r)
	if err != nil {
		return err
	}
	if multiplier < 1 {
		return nil
	}

	w, h := font.Size.Width, font.Size.Height
	if multiplier == 1 {
		for xo := 0; xo < w && xo < len(cols); xo++ {
			col := cols[xo]
			for yo := 0; yo < h; yo++ {
				if col&0x01 != 0 {
					p.DrawPoint(x+xo, y+yo)
				}
				col >>= 1
			}
		}
		return nil
	}

	for xo := 0; xo < w*multiplier; xo++ {
		c := xo / multiplier
		if c >= len(cols) {
			break
		}
		for yo := 0; yo < h*multiplier; yo++ {
			if cols[c]>>uint(yo/multiplier)&0x01 != 0 {
				p.DrawPoint(x+xo, y+yo)
			}
		}
	}
	return nil
}

// ShowString draws s left to right starting at (x, y), advancing one scaled
// cell per rune. There is no wrapping. Drawing stops at the first rune
// without a glyph.
func (p *Paint) ShowString(s string, x, y int, font *fonts.Font, multiplier int) error {
	if font == nil {
		font = fonts.ASCII0806
	}
	adv := font.Size.Width * multiplier
	i := 0
	for _, r := range s {
		if err := p.ShowChar(r, x+i*adv, y, font, multiplier); err != nil {
			return err
		}
		i++
	}
	return nil
}

// DrawText renders s with face in the foreground colour. (x, y) is the
// 0-based logical position of the baseline origin.
func (p *Paint) DrawText(face xfont.Face, x, y int, s string) {
	d := xfont.Drawer{
		Dst:  p.Image(),
		Src:  image.NewUniform(p.foreground()),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// MeasureText returns the advance of s in pixels.
func MeasureText(face xfont.Face, s string) int {
	return xfont.MeasureString(face, s).Ceil()
}
