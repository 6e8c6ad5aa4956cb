package epd

import (
	"fmt"
	"strings"
)

// Mode selects a refresh waveform and the matching update sequence. The
// table and selector byte always travel together.
type Mode uint8

const (
	// Full flashes the whole panel with the full waveform.
	Full Mode = iota
	// FullBlackOnly runs the full waveform with the black/white phases only.
	FullBlackOnly
	// Partial updates changed pixels with the partial waveform.
	Partial
)

type modeParams struct {
	name     string
	lut      *[153]byte
	selector byte
}

var modes = [...]modeParams{
	Full:          {"full", &lutFull, 0xF7},
	FullBlackOnly: {"black", &lutFull, 0xC7},
	Partial:       {"partial", &lutPartial, 0xCC},
}

func (m Mode) params() (modeParams, error) {
	if int(m) >= len(modes) {
		return modeParams{}, fmt.Errorf("%w %d", ErrUnknownMode, m)
	}
	return modes[m], nil
}

func (m Mode) String() string {
	if p, err := m.params(); err == nil {
		return p.name
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Selector is the displayUpdateControl2 byte for m, or 0 if m is unknown.
func (m Mode) Selector() byte {
	p, _ := m.params()
	return p.selector
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for i, p := range modes {
		if strings.EqualFold(s, p.name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownMode, s)
}

// Waveform returns a copy of the table uploaded for m.
func Waveform(m Mode) ([]byte, error) {
	p, err := m.params()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p.lut))
	copy(out, p.lut[:])
	return out, nil
}
