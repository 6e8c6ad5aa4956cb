package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddr is the PiSugar 3 battery controller address.
const DefaultAddr = 0x57

// ErrUnavailable is returned by readers that have no battery to report.
var ErrUnavailable = errors.New("battery: no battery reader available")

// Status represents current battery status for the status screen / API.
type Status struct {
	// Percent is the battery level in 0-100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, if known.
	VoltageMv int `json:"voltage_mv"`
}

func (s Status) String() string {
	if s.VoltageMv > 0 {
		return fmt.Sprintf("%d%% %.2fV", s.Percent, float64(s.VoltageMv)/1000)
	}
	return fmt.Sprintf("%d%%", s.Percent)
}

// Reader abstracts how we obtain battery information, so the panel can run
// on mains power or without a PiSugar attached.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// BusOpener opens an I2C bus by name.
type BusOpener func(name string) (i2c.BusCloser, error)

// I2CReader talks to a PiSugar 3 over I2C. The controller exposes:
//   - 0x22 (high), 0x23 (low): battery voltage in millivolts
//   - 0x2A: battery percentage (0-100)
type I2CReader struct {
	busName string
	addr    uint16
	open    BusOpener
}

// NewI2CReader constructs an I2C-backed Reader.
//
//   - busName: I2C bus identifier for periph.io ("" for the default, /dev/i2c-1 on a Raspberry Pi)
//   - addr:    7-bit address of the battery controller (0 selects DefaultAddr)
//
// The bus is opened on every Read and closed afterwards.
func NewI2CReader(busName string, addr uint16) *I2CReader {
	return NewI2CReaderWith(busName, addr, openHostBus)
}

// NewI2CReaderWith uses open instead of the periph registry.
func NewI2CReaderWith(busName string, addr uint16, open BusOpener) *I2CReader {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &I2CReader{busName: busName, addr: addr, open: open}
}

func openHostBus(name string) (i2c.BusCloser, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	return i2creg.Open(name)
}

// Read implements Reader.
func (r *I2CReader) Read(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	bus, err := r.open(r.busName)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open i2c %q: %w", r.busName, err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}

	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read register 0x%02X: %w", reg, err)
		}
		return buf[0], nil
	}

	// Voltage (mV): high at 0x22, low at 0x23
	high, err := readReg(0x22)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(0x23)
	if err != nil {
		return Status{}, err
	}
	voltageMv := int(uint16(high)<<8 | uint16(low))

	// Percent: 0x2A
	pct, err := readReg(0x2A)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: voltageMv,
	}, nil
}

// Fixed always reports the same status. Used by -render-only and tests.
type Fixed Status

func (f Fixed) Read(_ context.Context) (Status, error) {
	return Status(f), nil
}

// None reports ErrUnavailable.
type None struct{}

func (None) Read(_ context.Context) (Status, error) {
	return Status{}, ErrUnavailable
}
