// Package fonts holds column-encoded bitmap fonts for the paint rasterizer
// and loads TrueType faces for x/image text drawing.
package fonts

import (
	"errors"
	"fmt"
)

// ErrNoGlyph is returned when a rune maps outside the glyph table.
var ErrNoGlyph = errors.New("fonts: no glyph for rune")

// Size is the glyph cell in pixels.
type Size struct {
	Width  int
	Height int
}

// Font is a table of glyphs. Each glyph is Size.Width column bytes; bit 0 of a
// column is the top pixel.
type Font struct {
	Name   string
	Size   Size
	Glyphs [][]byte
}

// Index maps a rune onto the glyph table. Runes above 200 are offset by 948
// so a Greek extension can follow the printable ASCII range; everything else
// starts at the space character.
func Index(r rune) int {
	if r > 200 {
		return int(r) - 948
	}
	return int(r) - 32
}

// Glyph returns the columns for r.
func (f *Font) Glyph(r rune) ([]byte, error) {
	i := Index(r)
	if i < 0 || i >= len(f.Glyphs) {
		return nil, fmt.Errorf("%w %q (index %d, %s has %d)", ErrNoGlyph, r, i, f.Name, len(f.Glyphs))
	}
	return f.Glyphs[i], nil
}
