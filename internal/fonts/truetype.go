package fonts

import (
	"fmt"
	"os"

	"github.com/golang/freetype/truetype"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
)

// DefaultFace is used for captions when no TrueType font is configured.
var DefaultFace xfont.Face = basicfont.Face7x13

// ParseTrueType builds a fully hinted face of the given point size at 72 DPI.
func ParseTrueType(data []byte, size float64) (xfont.Face, error) {
	if size <= 0 {
		return nil, fmt.Errorf("fonts: invalid size %v", size)
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fonts: parse truetype: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: xfont.HintingFull,
	}), nil
}

// LoadTrueType reads a .ttf file. An empty path selects the bundled Go
// Regular font.
func LoadTrueType(path string, size float64) (xfont.Face, error) {
	if path == "" {
		return ParseTrueType(goregular.TTF, size)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fonts: read %s: %w", path, err)
	}
	return ParseTrueType(data, size)
}
