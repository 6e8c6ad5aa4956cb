package web

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssd1680/internal/app"
	"ssd1680/internal/battery"
	"ssd1680/internal/config"
	"ssd1680/internal/epd"
	"ssd1680/internal/epd/epdtest"
	"ssd1680/internal/paint"
)

type countingReader struct {
	n   atomic.Int32
	err error
}

func (c *countingReader) Read(context.Context) (battery.Status, error) {
	c.n.Add(1)
	return battery.Status{Percent: 64, VoltageMv: 3850}, c.err
}

func hardwareStation(t *testing.T) (*app.Station, *epdtest.Transport) {
	t.Helper()
	o := epd.DefaultOpts
	o.ResetHold = time.Microsecond
	o.PollInterval = time.Microsecond
	o.BusyTimeout = 50 * time.Millisecond
	tr := epdtest.NewDefault()
	d, err := epd.New(context.Background(), tr, &o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return app.NewDev(d, nil, app.Options{Message: "test"}), tr
}

func renderOnlyStation() *app.Station {
	return app.New(paint.New(paint.SSD1680, &paint.DefaultOpts), nil, nil, app.Options{})
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	s := NewServer(config.DefaultConfig(), renderOnlyStation(), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	h := NewServer(cfg, renderOnlyStation(), nil).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Half-configured credentials leave auth off.
	cfg.BasicAuth.Password = ""
	h = NewServer(cfg, renderOnlyStation(), nil).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/status").Code)
}

func TestStatus(t *testing.T) {
	st, _ := hardwareStation(t)
	h := NewServer(config.DefaultConfig(), st, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var got app.Status
	decode(t, rec, &got)
	assert.True(t, got.Hardware)
	assert.Equal(t, "ready", got.State)
	assert.Equal(t, 296, got.Width)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/status").Code)
}

func TestBatteryCache(t *testing.T) {
	r := &countingReader{}
	s := NewServer(config.DefaultConfig(), renderOnlyStation(), r)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/battery")
	require.Equal(t, http.StatusOK, rec.Code)
	var got battery.Status
	decode(t, rec, &got)
	assert.Equal(t, battery.Status{Percent: 64, VoltageMv: 3850}, got)

	now = now.Add(10 * time.Second)
	do(t, h, http.MethodGet, "/api/battery")
	assert.Equal(t, int32(1), r.n.Load())

	now = now.Add(batteryCacheTTL)
	do(t, h, http.MethodGet, "/api/battery")
	assert.Equal(t, int32(2), r.n.Load())
}

func TestBatteryErrors(t *testing.T) {
	h := NewServer(config.DefaultConfig(), renderOnlyStation(), nil).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/battery").Code)

	r := &countingReader{err: errors.New("i2c nack")}
	h = NewServer(config.DefaultConfig(), renderOnlyStation(), r).Handler()
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/api/battery").Code)
}

func TestRefresh(t *testing.T) {
	st, tr := hardwareStation(t)
	h := NewServer(config.DefaultConfig(), st, nil).Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/refresh").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/refresh?mode=sepia").Code)

	tr.Reset()
	rec := do(t, h, http.MethodPost, "/api/refresh?mode=partial")
	require.Equal(t, http.StatusOK, rec.Code)
	var got app.Status
	decode(t, rec, &got)
	assert.Equal(t, 1, got.Refreshes)
	assert.Equal(t, "partial", got.LastMode)
	assert.Equal(t, "sleeping", got.State)

	var sel []byte
	for _, c := range tr.Commands() {
		if c.Op == 0x22 {
			sel = append(sel, c.Params...)
		}
	}
	assert.Equal(t, []byte{0xCC}, sel)

	// Default mode is full; the panel is woken from sleep first.
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/refresh").Code)
	assert.Equal(t, "full", st.Status().LastMode)
}

func TestRefreshOutlivesRequest(t *testing.T) {
	st, tr := hardwareStation(t)
	h := NewServer(config.DefaultConfig(), st, nil).Handler()
	// Two busy polls per wait keep the panel working past the request.
	tr.BusyPerWait = 2

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	s := st.Status()
	assert.Equal(t, "sleeping", s.State)
	assert.Equal(t, 1, s.Refreshes)
	assert.Empty(t, s.LastError)
}

func TestRefreshRenderOnly(t *testing.T) {
	h := NewServer(config.DefaultConfig(), renderOnlyStation(), nil).Handler()
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/refresh").Code)
}

func TestRefreshFailure(t *testing.T) {
	st, tr := hardwareStation(t)
	tr.Stuck = true
	h := NewServer(config.DefaultConfig(), st, nil).Handler()
	rec := do(t, h, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "busy")
	assert.Equal(t, "sleeping", st.Status().State)
}

func TestPreview(t *testing.T) {
	st := renderOnlyStation()
	st.Render(context.Background(), time.Now())
	h := NewServer(config.DefaultConfig(), st, nil).Handler()

	rec := do(t, h, http.MethodGet, "/preview.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 296, img.Bounds().Dx())
}

func TestRunShutsDown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, renderOnlyStation(), nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
