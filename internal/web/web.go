package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"ssd1680/internal/app"
	"ssd1680/internal/battery"
	"ssd1680/internal/config"
	"ssd1680/internal/epd"
	appLog "ssd1680/internal/log"
)

const batteryCacheTTL = 30 * time.Second

// Server exposes the station status, preview and manual refresh over HTTP.
type Server struct {
	cfg     *config.Config
	station *app.Station
	battery battery.Reader
	mux     *http.ServeMux

	// now is replaced in tests.
	now func() time.Time

	// In-memory cache for battery status. This avoids hitting I2C on every
	// single HTTP call.
	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

// NewServer constructs a new Server. br may be nil when no battery is fitted.
func NewServer(cfg *config.Config, st *app.Station, br battery.Reader) *Server {
	if br == nil {
		br = battery.None{}
	}
	s := &Server{
		cfg:     cfg,
		station: st,
		battery: br,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="SSD1680", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, cfg *config.Config, st *app.Station, br battery.Reader) error {
	s := NewServer(cfg, st, br)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/battery", s.handleBattery)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.station.Status())
}

// handleBattery exposes current battery status (percent, voltage).
//
// Battery status does not need sub-second precision, so a short TTL cache
// sits in front of the reader.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	now := s.now()

	// Fast path: return cached value if it's still fresh.
	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, bc.status)
		return
	}

	status, err := s.battery.Read(r.Context())
	if errors.Is(err, battery.ErrUnavailable) {
		writeError(w, http.StatusNotFound, "no battery reader configured")
		return
	}
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{
		status:    status,
		updatedAt: now,
	}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, status)
}

// handleRefresh redraws the screen and pushes it to the panel.
//
// POST /api/refresh?mode=full|black|partial (default full)
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mode := epd.Full
	if q := r.URL.Query().Get("mode"); q != "" {
		m, err := epd.ParseMode(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		mode = m
	}

	// A client going away must not cut the panel sequence short.
	ctx := context.WithoutCancel(r.Context())
	s.station.Render(ctx, s.now())
	err := s.station.Refresh(ctx, mode)
	switch {
	case errors.Is(err, app.ErrNoPanel):
		writeError(w, http.StatusConflict, "render-only mode; no panel attached")
		return
	case err != nil:
		appLog.Error("manual refresh failed", err, "mode", mode.String())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	appLog.Info("manual refresh", "mode", mode.String(), "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.station.Status())
}

// handlePreview serves the current canvas as a PNG.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := s.station.WritePreview(&buf); err != nil {
		appLog.Error("preview encode failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// batteryCache holds the last known battery status and its timestamp.
type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
