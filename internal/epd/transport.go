package epd

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// PinMode is the direction of a GPIO line.
type PinMode uint8

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	if m == Output {
		return "out"
	}
	return "in"
}

// Transport is the byte/GPIO layer the driver talks through. Pins are BCM
// numbers. WriteBytes is a fire-and-forget burst; nothing is read back.
//
// internal/transport implements it on periph.io, internal/epd/epdtest in
// memory.
type Transport interface {
	SetPinMode(pin int, mode PinMode) error
	WriteDigital(pin int, level gpio.Level) error
	ReadDigital(pin int) (gpio.Level, error)
	InitializeBus(device int, freq physic.Frequency) error
	WriteBytes(p []byte) error
	Close() error
}
