package app

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssd1680/internal/battery"
	"ssd1680/internal/epd"
	"ssd1680/internal/epd/epdtest"
	"ssd1680/internal/fonts"
	"ssd1680/internal/paint"
)

func fastOpts() *epd.Opts {
	o := epd.DefaultOpts
	o.ResetHold = time.Microsecond
	o.PollInterval = time.Microsecond
	o.BusyTimeout = 50 * time.Millisecond
	return &o
}

func openStation(t *testing.T, opts Options) (*Station, *epdtest.Transport) {
	t.Helper()
	tr := epdtest.NewDefault()
	d, err := epd.New(context.Background(), tr, fastOpts())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	tr.Reset()
	return NewDev(d, battery.Fixed{Percent: 87, VoltageMv: 4000}, opts), tr
}

func opcodes(tr *epdtest.Transport) []byte {
	var out []byte
	for _, c := range tr.Commands() {
		out = append(out, c.Op)
	}
	return out
}

func selectors(tr *epdtest.Transport) []byte {
	var out []byte
	for _, c := range tr.Commands() {
		if c.Op == 0x22 {
			out = append(out, c.Params...)
		}
	}
	return out
}

func inked(b []byte) int {
	n := 0
	for _, v := range b {
		for ; v != 0xFF; v |= v + 1 {
			n++
		}
	}
	return n
}

func TestRenderOnly(t *testing.T) {
	canvas := paint.New(paint.SSD1680, &paint.DefaultOpts)
	st := New(canvas, nil, battery.Fixed{Percent: 50}, Options{Message: "Hi", Multiplier: 2})

	st.Render(context.Background(), time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	assert.Greater(t, inked(st.Bytes()), 0)

	var buf bytes.Buffer
	require.NoError(t, st.WritePreview(&buf))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 296, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())

	assert.ErrorIs(t, st.Refresh(context.Background(), epd.Full), ErrNoPanel)
	require.NoError(t, st.Tick(context.Background(), time.Now()))
	require.NoError(t, st.Sleep())

	s := st.Status()
	assert.False(t, s.Hardware)
	assert.Equal(t, "render-only", s.State)
	assert.Equal(t, "90°", s.Rotation)
	assert.Equal(t, 0, s.Refreshes)
	assert.Nil(t, s.LastRefresh)
	require.NotNil(t, s.Battery)
	assert.Equal(t, 50, s.Battery.Percent)
}

func TestRenderDependsOnClock(t *testing.T) {
	st := New(paint.New(paint.SSD1680, &paint.DefaultOpts), nil, nil, Options{Location: time.UTC})
	st.Render(context.Background(), time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	a := st.Bytes()
	st.Render(context.Background(), time.Date(2024, 5, 1, 9, 31, 0, 0, time.UTC))
	assert.NotEqual(t, a, st.Bytes())
	assert.Nil(t, st.Status().Battery)
}

func TestRenderTrueTypeClock(t *testing.T) {
	face, err := fonts.LoadTrueType("", 20)
	require.NoError(t, err)

	bitmap := New(paint.New(paint.SSD1680, &paint.DefaultOpts), nil, nil, Options{})
	ttf := New(paint.New(paint.SSD1680, &paint.DefaultOpts), nil, nil, Options{Clock: face})
	now := time.Now()
	bitmap.Render(context.Background(), now)
	ttf.Render(context.Background(), now)
	assert.Greater(t, inked(ttf.Bytes()), inked(bitmap.Bytes()))
}

func TestTickAlternatesModes(t *testing.T) {
	st, tr := openStation(t, Options{FullEvery: 3})
	ctx := context.Background()

	require.NoError(t, st.Tick(ctx, time.Now()))
	// Display, then deep sleep.
	assert.Equal(t, []byte{0x24, 0x32, 0x22, 0x20, 0x10}, opcodes(tr))

	for i := 0; i < 4; i++ {
		require.NoError(t, st.Tick(ctx, time.Now()))
	}
	assert.Equal(t, []byte{0xF7, 0xCC, 0xCC, 0xF7, 0xCC}, selectors(tr))

	s := st.Status()
	assert.True(t, s.Hardware)
	assert.Equal(t, "sleeping", s.State)
	assert.Equal(t, 5, s.Refreshes)
	assert.Equal(t, "partial", s.LastMode)
	require.NotNil(t, s.LastRefresh)
	assert.Empty(t, s.LastError)
}

func TestRefreshWakesPanel(t *testing.T) {
	st, tr := openStation(t, Options{})
	ctx := context.Background()
	require.NoError(t, st.Sleep())
	tr.Reset()

	require.NoError(t, st.Refresh(ctx, epd.FullBlackOnly))
	ops := opcodes(tr)
	require.Len(t, ops, len(wantInitOps)+5)
	assert.Equal(t, wantInitOps, ops[:len(wantInitOps)])
	assert.Equal(t, []byte{0xC7}, selectors(tr))
}

var wantInitOps = []byte{0x01, 0x3C, 0x21, 0x18, 0x11, 0x44, 0x45, 0x4E, 0x4F}

func TestRefreshFailureRecorded(t *testing.T) {
	st, tr := openStation(t, Options{})
	tr.Stuck = true

	err := st.Refresh(context.Background(), epd.Full)
	require.Error(t, err)
	assert.True(t, errors.Is(err, epd.ErrBusyTimeout))

	// The failed sequence still ends in deep sleep.
	s := st.Status()
	assert.Equal(t, "sleeping", s.State)
	assert.Contains(t, s.LastError, "busy")
	assert.Equal(t, 0, s.Refreshes)
	cmds := tr.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, epdtest.Command{Op: 0x10, Params: []byte{0x01}}, cmds[len(cmds)-1])

	// Next refresh resets the panel first.
	tr.Stuck = false
	require.NoError(t, st.Refresh(context.Background(), epd.Full))
	assert.Empty(t, st.Status().LastError)
}

func TestUnknownMode(t *testing.T) {
	st, tr := openStation(t, Options{})
	err := st.Refresh(context.Background(), epd.Mode(9))
	assert.ErrorIs(t, err, epd.ErrUnknownMode)
	assert.Empty(t, tr.Commands())
}

func TestRefreshIgnoresCancellation(t *testing.T) {
	st, tr := openStation(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, st.Refresh(ctx, epd.Full))
	assert.Equal(t, []byte{0x24, 0x32, 0x22, 0x20, 0x10}, opcodes(tr))
	s := st.Status()
	assert.Equal(t, "sleeping", s.State)
	assert.Equal(t, 1, s.Refreshes)
}
