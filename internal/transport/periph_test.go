package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"

	"ssd1680/internal/epd"
)

type rig struct {
	pins   map[string]*gpiotest.Pin
	wire   bytes.Buffer
	port   *spitest.RecordRaw
	opened []string
}

func newRig() *rig {
	r := &rig{pins: map[string]*gpiotest.Pin{}}
	for _, n := range []int{5, 7, 8} {
		name := PinName(n)
		r.pins[name] = &gpiotest.Pin{N: name, Num: n, L: gpio.High}
	}
	r.port = spitest.NewRecordRaw(&r.wire)
	return r
}

func (r *rig) transport() *Periph {
	return NewWith(
		func(name string) gpio.PinIO {
			if p, ok := r.pins[name]; ok {
				return p
			}
			return nil
		},
		func(name string) (spi.PortCloser, error) {
			r.opened = append(r.opened, name)
			return r.port, nil
		},
	)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "GPIO25", PinName(25))
	assert.Equal(t, "/dev/spidev1.1", PortName(1))
}

func TestPinModes(t *testing.T) {
	r := newRig()
	p := r.transport()

	require.NoError(t, p.SetPinMode(8, epd.Output))
	assert.Equal(t, gpio.Low, r.pins["GPIO8"].Read())

	require.NoError(t, p.SetPinMode(5, epd.Input))
	assert.Equal(t, gpio.Float, r.pins["GPIO5"].Pull())

	require.NoError(t, p.WriteDigital(8, gpio.High))
	assert.Equal(t, gpio.High, r.pins["GPIO8"].Read())

	l, err := p.ReadDigital(5)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, l)

	assert.Error(t, p.SetPinMode(99, epd.Output))
	assert.ErrorIs(t, p.WriteDigital(7, gpio.High), ErrNoPin)
	_, err = p.ReadDigital(7)
	assert.ErrorIs(t, err, ErrNoPin)
}

func TestBus(t *testing.T) {
	r := newRig()
	p := r.transport()
	assert.ErrorIs(t, p.WriteBytes([]byte{1}), ErrNoBus)

	require.NoError(t, p.InitializeBus(0, 20*physic.MegaHertz))
	assert.Equal(t, []string{"/dev/spidev0.1"}, r.opened)
	assert.True(t, r.port.Initialized)

	require.NoError(t, p.WriteBytes([]byte{0x24, 0xFF}))
	require.NoError(t, p.WriteBytes([]byte{0x00}))
	assert.Equal(t, []byte{0x24, 0xFF, 0x00}, r.wire.Bytes())

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.WriteBytes([]byte{1}), ErrNoBus)
	require.NoError(t, p.Close())
}

func TestBusOpenFailure(t *testing.T) {
	boom := errors.New("no such device")
	p := NewWith(func(string) gpio.PinIO { return nil }, func(string) (spi.PortCloser, error) {
		return nil, boom
	})
	assert.ErrorIs(t, p.InitializeBus(3, physic.MegaHertz), boom)
}

func TestDriveEPD(t *testing.T) {
	r := newRig()
	// Busy reads low: the controller is idle.
	r.pins["GPIO5"].L = gpio.Low
	p := r.transport()

	d, err := epd.New(context.Background(), p, &epd.Opts{
		DC: 8, RST: 7, BUSY: 5, Device: 1,
		ResetHold: time.Microsecond, PollInterval: time.Microsecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/spidev1.1"}, r.opened)
	assert.Equal(t, gpio.High, r.pins["GPIO7"].Read())

	// Nine opcodes and their 17 parameter bytes.
	assert.Equal(t, 9+17, r.wire.Len())
	assert.Equal(t, []byte{0x01, 0x27, 0x01, 0x01, 0x3C, 0x05}, r.wire.Bytes()[:6])

	r.wire.Reset()
	d.Clear()
	require.NoError(t, d.Display(context.Background(), epd.Partial))
	out := r.wire.Bytes()
	require.Len(t, out, 1+4736+1+153+1+1+1)
	assert.Equal(t, byte(0x24), out[0])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 4736), out[1:4737])
	assert.Equal(t, byte(0x32), out[4737])
	assert.Equal(t, []byte{0x22, 0xCC, 0x20}, out[len(out)-3:])
	assert.Equal(t, gpio.High, r.pins["GPIO8"].Read())

	require.NoError(t, d.Close())
}
