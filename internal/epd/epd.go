// Package epd drives a 2.9" SSD1680 e-paper panel (128x296, black/white)
// through an injected Transport.
//
// The driver owns a paint.Paint canvas. Draw into it through the embedded
// methods, then push it to the panel with Display:
//
//	dev.Clear()
//	dev.ShowString("Hello World!", 0, 5, nil, 2)
//	dev.Display(ctx, epd.Full)
//
// A Dev is not safe for concurrent use.
package epd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	appLog "ssd1680/internal/log"
	"ssd1680/internal/paint"
)

var (
	// ErrBusyTimeout is returned when the busy line stays high for longer
	// than Opts.BusyTimeout.
	ErrBusyTimeout = errors.New("epd: timed out waiting for busy line")
	// ErrUnknownMode is returned for Mode values outside the defined set.
	ErrUnknownMode = errors.New("epd: unknown refresh mode")
	// ErrAsleep is returned by Display after Sleep until Reset is called.
	ErrAsleep = errors.New("epd: panel is in deep sleep; reset first")
	// ErrFaulted is returned after a transport or busy-wait failure left a
	// command sequence half written. Reset recovers.
	ErrFaulted = errors.New("epd: panel state unknown after failed sequence; reset first")
	// ErrClosed is returned once the transport has been released.
	ErrClosed = errors.New("epd: device closed")
)

// State is the position in the panel protocol.
type State uint8

const (
	Uninitialized State = iota
	Resetting
	Ready
	Transferring
	Activating
	Sleeping
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Resetting:
		return "resetting"
	case Ready:
		return "ready"
	case Transferring:
		return "transferring"
	case Activating:
		return "activating"
	case Sleeping:
		return "sleeping"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Opts holds the wiring and timing of a panel. Zero durations fall back to
// the DefaultOpts values.
type Opts struct {
	DC   int // data/command select, BCM number
	RST  int // reset, active low
	BUSY int // busy, high while the controller works

	Device    int // SPI bus; the panel sits on chip select 1
	Frequency physic.Frequency

	Rotation paint.Rotation
	// ZeroBased makes drawing coordinates start at 0 instead of 1.
	ZeroBased bool

	BusyTimeout  time.Duration
	PollInterval time.Duration
	ResetHold    time.Duration
}

// DefaultOpts matches the reference wiring on SPI1.
var DefaultOpts = Opts{
	DC:           8,
	RST:          7,
	BUSY:         5,
	Device:       1,
	Frequency:    20 * physic.MegaHertz,
	Rotation:     paint.Rotate90,
	BusyTimeout:  10 * time.Second,
	PollInterval: time.Millisecond,
	ResetHold:    50 * time.Millisecond,
}

// Dev is an open SSD1680 panel.
type Dev struct {
	*paint.Paint

	t      Transport
	opts   Opts
	state  State
	closed bool
}

var _ display.Drawer = (*Dev)(nil)

// New configures the pins and bus on t, then resets and initializes the
// panel. On error t is left open for the caller to close.
func New(ctx context.Context, t Transport, opts *Opts) (*Dev, error) {
	o := DefaultOpts
	if opts != nil {
		o = *opts
		if o.Frequency == 0 {
			o.Frequency = DefaultOpts.Frequency
		}
		if o.BusyTimeout <= 0 {
			o.BusyTimeout = DefaultOpts.BusyTimeout
		}
		if o.PollInterval <= 0 {
			o.PollInterval = DefaultOpts.PollInterval
		}
		if o.ResetHold <= 0 {
			o.ResetHold = DefaultOpts.ResetHold
		}
	}

	pins := []struct {
		pin  int
		mode PinMode
	}{
		{o.DC, Output},
		{o.RST, Output},
		{o.BUSY, Input},
	}
	for _, p := range pins {
		if err := t.SetPinMode(p.pin, p.mode); err != nil {
			return nil, fmt.Errorf("epd: set pin %d %s: %w", p.pin, p.mode, err)
		}
	}
	if err := t.InitializeBus(o.Device, o.Frequency); err != nil {
		return nil, fmt.Errorf("epd: initialize spi%d at %s: %w", o.Device, o.Frequency, err)
	}

	d := &Dev{
		Paint: paint.New(paint.SSD1680, &paint.Opts{Rotation: o.Rotation, Background: paint.White, ZeroBased: o.ZeroBased}),
		t:     t,
		opts:  o,
	}
	if err := d.Reset(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// State reports the protocol state.
func (d *Dev) State() State {
	return d.state
}

// Reset pulses the reset line, waits for the controller and replays the
// init sequence. It is the only way out of Sleeping and Faulted.
func (d *Dev) Reset(ctx context.Context) error {
	if d.closed {
		return ErrClosed
	}
	d.state = Resetting

	steps := []func() error{
		func() error { return d.digitalWrite(d.opts.DC, gpio.High) },
		func() error { return d.digitalWrite(d.opts.RST, gpio.High) },
		func() error { return delay(ctx, d.opts.ResetHold) },
		func() error { return d.digitalWrite(d.opts.RST, gpio.Low) },
		func() error { return delay(ctx, d.opts.ResetHold) },
		func() error { return d.digitalWrite(d.opts.RST, gpio.High) },
		func() error { return d.waitUntilIdle(ctx) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return d.fault("reset", err)
		}
	}
	for _, c := range initSequence {
		if err := d.sendCommand(c.op, c.params...); err != nil {
			return d.fault("init", err)
		}
	}

	d.state = Ready
	appLog.Debug("epd reset complete", "rotation", d.Rotation().String())
	return nil
}

// Display transfers the canvas and runs a refresh with mode.
func (d *Dev) Display(ctx context.Context, mode Mode) error {
	p, err := mode.params()
	if err != nil {
		return err
	}
	if err := d.ready(); err != nil {
		return err
	}

	start := time.Now()
	d.state = Transferring
	if err := d.writeRAM(d.Bytes()); err != nil {
		return d.fault("write ram", err)
	}
	if err := d.waitUntilIdle(ctx); err != nil {
		return d.fault("write ram", err)
	}

	d.state = Activating
	if err := d.sendCommand(writeLutRegister, p.lut[:]...); err != nil {
		return d.fault("load lut", err)
	}
	if err := d.waitUntilIdle(ctx); err != nil {
		return d.fault("load lut", err)
	}
	if err := d.sendCommand(displayUpdateControl2, p.selector); err != nil {
		return d.fault("update control", err)
	}
	if err := d.sendCommand(masterActivation); err != nil {
		return d.fault("activate", err)
	}
	if err := d.waitUntilIdle(ctx); err != nil {
		return d.fault("activate", err)
	}

	d.state = Ready
	appLog.Debug("epd refresh complete", "mode", mode.String(), "elapsed", time.Since(start).String())
	return nil
}

// Sleep puts the controller into deep sleep. The busy line is not polled
// afterwards; the controller stops responding until the next reset.
func (d *Dev) Sleep() error {
	if d.closed {
		return ErrClosed
	}
	if d.state == Sleeping {
		return nil
	}
	if err := d.sendCommand(deepSleepMode, deepSleepMode1); err != nil {
		return d.fault("sleep", err)
	}
	d.state = Sleeping
	return nil
}

// Close releases the transport. It does not put the panel to sleep.
func (d *Dev) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.state = Uninitialized
	return d.t.Close()
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return d.Sleep()
}

func (d *Dev) String() string {
	s := d.Screen()
	return fmt.Sprintf("ssd1680.Dev{%dx%d, %s, %s}", s.Width, s.Height, d.Rotation(), d.state)
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements display.Drawer. It is the rotated, logical size.
func (d *Dev) Bounds() image.Rectangle {
	return d.Image().Bounds()
}

// Draw implements display.Drawer. src is composed onto the canvas at
// dstRect and the panel gets a full refresh.
func (d *Dev) Draw(dstRect image.Rectangle, src image.Image, sp image.Point) error {
	draw.Draw(d.Image(), dstRect, src, sp, draw.Src)
	return d.Display(context.Background(), Full)
}

func (d *Dev) ready() error {
	if d.closed {
		return ErrClosed
	}
	switch d.state {
	case Ready:
		return nil
	case Sleeping:
		return ErrAsleep
	case Faulted:
		return ErrFaulted
	}
	return fmt.Errorf("epd: display called in state %s", d.state)
}

func (d *Dev) fault(stage string, err error) error {
	d.state = Faulted
	appLog.Error("epd sequence failed", err, "stage", stage)
	return fmt.Errorf("epd: %s: %w", stage, err)
}

// --- low-level helpers ---

func (d *Dev) digitalWrite(pin int, level gpio.Level) error {
	return d.t.WriteDigital(pin, level)
}

// sendCommand writes op with DC low, then params with DC high.
func (d *Dev) sendCommand(op byte, params ...byte) error {
	if err := d.digitalWrite(d.opts.DC, gpio.Low); err != nil {
		return err
	}
	if err := d.t.WriteBytes([]byte{op}); err != nil {
		return err
	}
	if err := d.digitalWrite(d.opts.DC, gpio.High); err != nil {
		return err
	}
	if len(params) == 0 {
		return nil
	}
	return d.t.WriteBytes(params)
}

// sendData continues a payload with DC high.
func (d *Dev) sendData(data []byte) error {
	if err := d.digitalWrite(d.opts.DC, gpio.High); err != nil {
		return err
	}
	return d.t.WriteBytes(data)
}

// writeRAM sends buf to the black/white RAM. The first burstLimit bytes go
// with the command, the rest follow as pure data bursts.
func (d *Dev) writeRAM(buf []byte) error {
	head := buf
	if len(head) > burstLimit {
		head = buf[:burstLimit]
	}
	if err := d.sendCommand(writeRAMBW, head...); err != nil {
		return err
	}
	for rest := buf[len(head):]; len(rest) > 0; {
		n := len(rest)
		if n > burstLimit {
			n = burstLimit
		}
		if err := d.sendData(rest[:n]); err != nil {
			return err
		}
		rest = rest[n:]
	}
	return nil
}

// waitUntilIdle polls the busy line until it reads low.
func (d *Dev) waitUntilIdle(ctx context.Context) error {
	deadline := time.Now().Add(d.opts.BusyTimeout)
	tick := time.NewTicker(d.opts.PollInterval)
	defer tick.Stop()
	for {
		l, err := d.t.ReadDigital(d.opts.BUSY)
		if err != nil {
			return err
		}
		if l == gpio.Low {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrBusyTimeout, d.opts.BusyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func delay(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
