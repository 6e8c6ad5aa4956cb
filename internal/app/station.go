package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	xfont "golang.org/x/image/font"

	"ssd1680/internal/battery"
	"ssd1680/internal/epd"
	"ssd1680/internal/fonts"
	appLog "ssd1680/internal/log"
	"ssd1680/internal/paint"
)

// ErrNoPanel is returned by refreshes on a render-only station.
var ErrNoPanel = errors.New("app: no panel attached")

// Panel is the part of *epd.Dev the station drives.
type Panel interface {
	Display(ctx context.Context, mode epd.Mode) error
	Reset(ctx context.Context) error
	Sleep() error
	State() epd.State
}

// Options controls the status screen layout and refresh cadence.
type Options struct {
	Message    string
	Multiplier int
	// Clock is the face of the clock line. Nil draws it with the 6x8 font.
	Clock    xfont.Face
	Location *time.Location
	// FullEvery makes every FullEvery-th refresh a full one.
	FullEvery int
}

// Status is a snapshot of the station for the HTTP API.
type Status struct {
	Hardware    bool            `json:"hardware"`
	State       string          `json:"state"`
	Rotation    string          `json:"rotation"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Refreshes   int             `json:"refreshes"`
	LastRefresh *time.Time      `json:"last_refresh,omitempty"`
	LastMode    string          `json:"last_mode,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Battery     *battery.Status `json:"battery,omitempty"`
}

// Station owns the canvas and the panel. Every access goes through its
// mutex, so the scheduler and HTTP handlers can share it.
type Station struct {
	mu sync.Mutex

	canvas  *paint.Paint
	panel   Panel
	battery battery.Reader
	opts    Options

	refreshes   int
	lastRefresh time.Time
	lastMode    epd.Mode
	lastErr     error
	lastBattery *battery.Status
}

// New builds a station around canvas. panel may be nil for render-only use;
// br may be nil when no battery is fitted.
func New(canvas *paint.Paint, panel Panel, br battery.Reader, opts Options) *Station {
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}
	if opts.FullEvery < 1 {
		opts.FullEvery = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if br == nil {
		br = battery.None{}
	}
	return &Station{canvas: canvas, panel: panel, battery: br, opts: opts}
}

// NewDev is New for a station driving an open panel.
func NewDev(dev *epd.Dev, br battery.Reader, opts Options) *Station {
	return New(dev.Paint, dev, br, opts)
}

// Render redraws the status screen for now.
func (s *Station) Render(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.render(ctx, now)
}

func (s *Station) render(ctx context.Context, now time.Time) {
	c := s.canvas
	c.Clear()

	w, h := c.Width(), c.Height()
	c.DrawRectangle(2, 2, w-2, h-2)

	const margin = 8
	mult := s.opts.Multiplier
	y := margin
	if s.opts.Message != "" {
		if err := c.ShowString(s.opts.Message, margin, y, fonts.ASCII0806, mult); err != nil {
			appLog.Warn("message truncated", "error", err.Error())
		}
		y += fonts.ASCII0806.Size.Height*mult + margin
	}

	clock := now.In(s.opts.Location).Format("2006-01-02 15:04")
	if face := s.opts.Clock; face != nil {
		ascent := face.Metrics().Ascent.Ceil()
		c.DrawText(face, margin, y+ascent, clock)
		y += face.Metrics().Height.Ceil() + margin
	} else {
		if err := c.ShowString(clock, margin, y, fonts.ASCII0806, 1); err != nil {
			appLog.Warn("clock truncated", "error", err.Error())
		}
		y += fonts.ASCII0806.Size.Height + margin
	}

	st, err := s.battery.Read(ctx)
	switch {
	case err == nil:
		s.lastBattery = &st
		if err := c.ShowString("BAT "+st.String(), margin, y, fonts.ASCII0806, 1); err != nil {
			appLog.Warn("battery line truncated", "error", err.Error())
		}
	case errors.Is(err, battery.ErrUnavailable):
		s.lastBattery = nil
	default:
		appLog.Warn("battery read failed", "error", err.Error())
	}
}

// Tick renders now and refreshes the panel. The first refresh and every
// FullEvery-th one after it are full; the rest are partial.
func (s *Station) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.render(ctx, now)
	if s.panel == nil {
		return nil
	}
	mode := epd.Partial
	if s.refreshes%s.opts.FullEvery == 0 {
		mode = epd.Full
	}
	return s.refresh(ctx, mode)
}

// Refresh pushes the current canvas with mode.
func (s *Station) Refresh(ctx context.Context, mode epd.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx, mode)
}

// refresh wakes the panel if needed, displays and puts it back to sleep.
// The panel is put to sleep on failure too. The command sequence runs
// detached from ctx's cancellation; the driver's busy timeout bounds it.
func (s *Station) refresh(ctx context.Context, mode epd.Mode) error {
	if s.panel == nil {
		return ErrNoPanel
	}
	ctx = context.WithoutCancel(ctx)
	if st := s.panel.State(); st == epd.Sleeping || st == epd.Faulted {
		if err := s.panel.Reset(ctx); err != nil {
			s.failed(err)
			return fmt.Errorf("app: wake panel: %w", err)
		}
	}
	if err := s.panel.Display(ctx, mode); err != nil {
		// An unknown mode is rejected before anything reaches the panel.
		if !errors.Is(err, epd.ErrUnknownMode) {
			s.failed(err)
		}
		return fmt.Errorf("app: %s refresh: %w", mode, err)
	}
	s.refreshes++
	s.lastRefresh = time.Now()
	s.lastMode = mode
	s.lastErr = nil
	appLog.Info("panel refreshed", "mode", mode.String(), "count", s.refreshes)

	if err := s.panel.Sleep(); err != nil {
		s.lastErr = err
		return fmt.Errorf("app: sleep: %w", err)
	}
	return nil
}

// failed records err and tries to leave the panel asleep.
func (s *Station) failed(err error) {
	s.lastErr = err
	if serr := s.panel.Sleep(); serr != nil {
		appLog.Error("failed to put panel to sleep after refresh error", serr)
	}
}

// Sleep puts the panel into deep sleep.
func (s *Station) Sleep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panel == nil {
		return nil
	}
	return s.panel.Sleep()
}

// Status returns a snapshot for the API.
func (s *Station) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Hardware:  s.panel != nil,
		State:     "render-only",
		Rotation:  s.canvas.Rotation().String(),
		Width:     s.canvas.Width(),
		Height:    s.canvas.Height(),
		Refreshes: s.refreshes,
		Battery:   s.lastBattery,
	}
	if s.panel != nil {
		st.State = s.panel.State().String()
	}
	if s.refreshes > 0 {
		t := s.lastRefresh
		st.LastRefresh = &t
		st.LastMode = s.lastMode.String()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// WritePreview encodes the canvas as a PNG.
func (s *Station) WritePreview(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvas.WritePNG(w)
}

// Bytes returns a copy of the packed panel buffer.
func (s *Station) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.canvas.Bytes()...)
}
