package fonts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
)

func TestASCII0806Coverage(t *testing.T) {
	require.Len(t, ASCII0806.Glyphs, '~'-' '+1)
	for i, g := range ASCII0806.Glyphs {
		assert.Len(t, g, ASCII0806.Size.Width, "glyph %q", rune(i+' '))
	}
}

func TestIndex(t *testing.T) {
	cases := []struct {
		r    rune
		want int
	}{
		{' ', 0},
		{'A', 33},
		{'~', 94},
		{200, 168},
		{948, 0},
		{950, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Index(c.r), "rune %d", c.r)
	}
}

func TestGlyph(t *testing.T) {
	g, err := ASCII0806.Glyph('1')
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x42, 0x7F, 0x40, 0x00}, g)

	_, err = ASCII0806.Glyph('\n')
	assert.ErrorIs(t, err, ErrNoGlyph)

	_, err = ASCII0806.Glyph(0x7F)
	assert.ErrorIs(t, err, ErrNoGlyph)
}

func TestParseTrueType(t *testing.T) {
	face, err := ParseTrueType(goregular.TTF, 14)
	require.NoError(t, err)
	defer face.Close()

	adv, ok := face.GlyphAdvance('W')
	require.True(t, ok)
	assert.Positive(t, adv.Ceil())

	_, err = ParseTrueType(goregular.TTF, 0)
	assert.Error(t, err)

	_, err = ParseTrueType([]byte("not a font"), 12)
	assert.Error(t, err)
}

func TestLoadTrueType(t *testing.T) {
	face, err := LoadTrueType("", 12)
	require.NoError(t, err)
	assert.NotNil(t, face)

	path := filepath.Join(t.TempDir(), "go.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0o600))
	face, err = LoadTrueType(path, 12)
	require.NoError(t, err)
	assert.NotNil(t, face)

	_, err = LoadTrueType(filepath.Join(t.TempDir(), "missing.ttf"), 12)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
