// Package transport implements epd.Transport on periph.io: GPIO lines are
// resolved through gpioreg by BCM number and the panel sits on chip select 1
// of a spidev bus.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"ssd1680/internal/epd"
)

var (
	ErrNoBus = errors.New("transport: spi bus not initialized")
	ErrNoPin = errors.New("transport: pin not configured")
)

// PinLookup resolves a pin name such as "GPIO25".
type PinLookup func(name string) gpio.PinIO

// PortOpener opens a SPI port by name.
type PortOpener func(name string) (spi.PortCloser, error)

// Periph talks to the panel through periph.io drivers.
type Periph struct {
	lookup PinLookup
	open   PortOpener

	mu   sync.Mutex
	pins map[int]gpio.PinIO
	port spi.PortCloser
	conn spi.Conn
}

var _ epd.Transport = (*Periph)(nil)

// New initializes the periph host drivers and uses the global registries.
func New() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("transport: periph host init failed: %w", err)
	}
	return NewWith(gpioreg.ByName, spireg.Open), nil
}

// NewWith uses the given registries. Tests pass gpiotest pins and a spitest
// port here.
func NewWith(lookup PinLookup, open PortOpener) *Periph {
	return &Periph{lookup: lookup, open: open, pins: map[int]gpio.PinIO{}}
}

// PinName is the gpioreg name of a BCM pin.
func PinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}

// PortName is the spidev node the panel is wired to on bus device.
func PortName(device int) string {
	return fmt.Sprintf("/dev/spidev%d.1", device)
}

func (p *Periph) SetPinMode(pin int, mode epd.PinMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := PinName(pin)
	io := p.lookup(name)
	if io == nil {
		return fmt.Errorf("transport: gpio %s not found", name)
	}
	var err error
	if mode == epd.Output {
		err = io.Out(gpio.Low)
	} else {
		err = io.In(gpio.Float, gpio.NoEdge)
	}
	if err != nil {
		return fmt.Errorf("transport: gpio %s %s: %w", name, mode, err)
	}
	p.pins[pin] = io
	return nil
}

func (p *Periph) WriteDigital(pin int, level gpio.Level) error {
	io, err := p.pin(pin)
	if err != nil {
		return err
	}
	return io.Out(level)
}

func (p *Periph) ReadDigital(pin int) (gpio.Level, error) {
	io, err := p.pin(pin)
	if err != nil {
		return gpio.Low, err
	}
	return io.Read(), nil
}

func (p *Periph) pin(pin int) (gpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io, ok := p.pins[pin]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPin, PinName(pin))
	}
	return io, nil
}

// InitializeBus opens the spidev port for device and connects in mode 0
// with 8 bit words.
func (p *Periph) InitializeBus(device int, freq physic.Frequency) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		_ = p.port.Close()
		p.port, p.conn = nil, nil
	}

	name := PortName(device)
	port, err := p.open(name)
	if err != nil {
		return fmt.Errorf("transport: failed to open %s: %w", name, err)
	}
	c, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("transport: failed to connect %s: %w", name, err)
	}
	p.port, p.conn = port, c
	return nil
}

func (p *Periph) WriteBytes(b []byte) error {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c == nil {
		return ErrNoBus
	}
	return c.Tx(b, nil)
}

// Close releases the SPI port. Pins keep their last level.
func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port, p.conn = nil, nil
	return err
}
