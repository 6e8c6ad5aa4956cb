// Package epdtest provides an in-memory epd.Transport that records traffic
// and simulates the busy line.
package epdtest

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"ssd1680/internal/epd"
)

// ErrInjected is returned by a write selected with FailOnWrite.
var ErrInjected = errors.New("epdtest: injected write failure")

// OpKind identifies a recorded Transport call.
type OpKind uint8

const (
	OpPinMode OpKind = iota
	OpWrite
	OpRead
	OpBus
	OpBytes
	OpClose
)

// Op is one recorded Transport call.
type Op struct {
	Kind   OpKind
	Pin    int
	Mode   epd.PinMode
	Level  gpio.Level
	Device int
	Freq   physic.Frequency
	Data   []byte
}

// Command is an opcode and the bytes that followed it with DC high, up to
// the next opcode.
type Command struct {
	Op     byte
	Params []byte
}

// Transport records every call. The zero value is not usable; use New.
type Transport struct {
	DC   int
	BUSY int

	mu sync.Mutex

	// BusyReads is the number of upcoming busy reads that return High.
	BusyReads int
	// BusyPerWait reloads BusyReads after each read that returns Low.
	BusyPerWait int
	// Stuck keeps the busy line High forever.
	Stuck bool
	// FailOnWrite makes the Nth WriteBytes call (1-based) fail.
	FailOnWrite int

	ops    []Op
	levels map[int]gpio.Level
	writes int
	closed bool
}

var _ epd.Transport = (*Transport)(nil)

// New returns a Transport that decodes commands using the given DC and BUSY
// pins.
func New(dc, busy int) *Transport {
	return &Transport{DC: dc, BUSY: busy, levels: map[int]gpio.Level{}}
}

// NewDefault uses the epd.DefaultOpts wiring.
func NewDefault() *Transport {
	return New(epd.DefaultOpts.DC, epd.DefaultOpts.BUSY)
}

func (t *Transport) SetPinMode(pin int, mode epd.PinMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, Op{Kind: OpPinMode, Pin: pin, Mode: mode})
	return nil
}

func (t *Transport) WriteDigital(pin int, level gpio.Level) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.levels[pin] = level
	t.ops = append(t.ops, Op{Kind: OpWrite, Pin: pin, Level: level})
	return nil
}

func (t *Transport) ReadDigital(pin int) (gpio.Level, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := gpio.Low
	if pin == t.BUSY {
		switch {
		case t.Stuck:
			l = gpio.High
		case t.BusyReads > 0:
			t.BusyReads--
			l = gpio.High
		default:
			t.BusyReads = t.BusyPerWait
		}
	} else {
		l = t.levels[pin]
	}
	t.ops = append(t.ops, Op{Kind: OpRead, Pin: pin, Level: l})
	return l, nil
}

func (t *Transport) InitializeBus(device int, freq physic.Frequency) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = append(t.ops, Op{Kind: OpBus, Device: device, Freq: freq})
	return nil
}

func (t *Transport) WriteBytes(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("epdtest: write after close")
	}
	t.writes++
	if t.FailOnWrite > 0 && t.writes == t.FailOnWrite {
		return ErrInjected
	}
	t.ops = append(t.ops, Op{Kind: OpBytes, Level: t.levels[t.DC], Data: append([]byte(nil), p...)})
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.ops = append(t.ops, Op{Kind: OpClose})
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Ops returns a copy of the recorded calls.
func (t *Transport) Ops() []Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Op(nil), t.ops...)
}

// Reset forgets recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = nil
}

// Level is the last level written to pin.
func (t *Transport) Level(pin int) gpio.Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levels[pin]
}

// Commands decodes the byte writes into opcodes and parameters. Bytes
// written with DC low start a new command.
func (t *Transport) Commands() []Command {
	var out []Command
	for _, op := range t.Ops() {
		if op.Kind != OpBytes {
			continue
		}
		if op.Level == gpio.Low {
			for _, b := range op.Data {
				out = append(out, Command{Op: b})
			}
			continue
		}
		if len(out) == 0 {
			out = append(out, Command{Op: 0})
		}
		last := &out[len(out)-1]
		last.Params = append(last.Params, op.Data...)
	}
	return out
}

// Events summarises the traffic as "cmd XX", "data N" and "wait" entries.
// A run of busy reads collapses into one "wait".
func (t *Transport) Events() []string {
	var out []string
	waiting := false
	for _, op := range t.Ops() {
		switch {
		case op.Kind == OpRead && op.Pin == t.BUSY:
			if !waiting {
				out = append(out, "wait")
				waiting = true
			}
			continue
		case op.Kind == OpBytes && op.Level == gpio.Low:
			for _, b := range op.Data {
				out = append(out, fmt.Sprintf("cmd %02X", b))
			}
		case op.Kind == OpBytes:
			out = append(out, fmt.Sprintf("data %d", len(op.Data)))
		default:
			continue
		}
		waiting = false
	}
	return out
}

// BusyPolls counts reads of the busy line.
func (t *Transport) BusyPolls() int {
	n := 0
	for _, op := range t.Ops() {
		if op.Kind == OpRead && op.Pin == t.BUSY {
			n++
		}
	}
	return n
}
