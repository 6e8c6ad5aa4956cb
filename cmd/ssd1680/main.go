package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	xfont "golang.org/x/image/font"

	"ssd1680/internal/app"
	"ssd1680/internal/battery"
	"ssd1680/internal/config"
	"ssd1680/internal/epd"
	"ssd1680/internal/fonts"
	appLog "ssd1680/internal/log"
	"ssd1680/internal/paint"
	"ssd1680/internal/transport"
	"ssd1680/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	renderOnly bool
	dump       bool
	dumpDir    string
}

func main() {
	if err := run(); err != nil {
		appLog.Error("ssd1680 exiting with error", err)
		os.Exit(1)
	}
}

func run() error {
	appLog.Info("ssd1680 starting", "version", version)

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Warn("invalid log level; using INFO", "log_level", conf.LogLevel)
	}
	appLog.SetLevel(level)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"full_every", conf.FullEvery,
		"rotation", conf.Panel.Rotation,
		"spi_device", conf.Panel.SPIDevice,
		"battery", conf.Battery.Enabled,
		"once", flags.once,
		"render_only", flags.renderOnly,
		"dump", flags.dump,
	)

	if !flags.once {
		if err := app.ValidateSpec(conf.RefreshCron); err != nil {
			return err
		}
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	br := batteryReader(conf, flags.renderOnly)
	opts := app.Options{
		Message:    conf.Screen.Message,
		Multiplier: conf.Screen.Multiplier,
		Clock:      clockFace(conf),
		Location:   loc,
		FullEvery:  conf.FullEvery,
	}

	var st *app.Station
	if flags.renderOnly {
		rot, _ := paint.RotationFromDegrees(conf.Panel.Rotation)
		canvas := paint.New(paint.SSD1680, &paint.Opts{Rotation: rot, Background: paint.White, ZeroBased: conf.Panel.ZeroBased})
		st = app.New(canvas, nil, br, opts)
	} else {
		dev, err := openPanel(ctx, conf)
		if err != nil {
			return err
		}
		defer func() {
			if err := dev.Close(); err != nil {
				appLog.Error("failed to close panel", err)
			}
		}()
		appLog.Info("panel ready", "dev", dev.String())
		st = app.NewDev(dev, br, opts)
	}

	// First frame: always a full refresh.
	if err := st.Tick(ctx, time.Now()); err != nil {
		return err
	}
	if flags.dump {
		if err := dump(st, flags.dumpDir); err != nil {
			return err
		}
	}
	if flags.once {
		appLog.Info("single refresh done")
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := app.Schedule(ctx, conf.RefreshCron, loc, st); err != nil {
			appLog.Error("scheduler stopped", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := web.Run(ctx, conf, st, br); err != nil {
			appLog.Error("HTTP server stopped", err)
			cancel()
		}
	}()

	<-ctx.Done()
	appLog.Info("signal received, shutting down")
	wg.Wait()

	if err := st.Sleep(); err != nil {
		appLog.Error("failed to put panel to sleep", err)
	}
	appLog.Info("ssd1680 exiting")
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/ssd1680/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Render, run one full refresh and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display hardware")
	flag.BoolVar(&cfg.dump, "dump", false, "Dump debug artifacts (black.bin, preview.png) after the first render")
	flag.StringVar(&cfg.dumpDir, "dump-dir", ".", "Directory for -dump artifacts")

	flag.Parse()

	return cfg
}

// openPanel brings up the periph transport and resets the panel.
func openPanel(ctx context.Context, conf *config.Config) (*epd.Dev, error) {
	tr, err := transport.New()
	if err != nil {
		return nil, err
	}
	dev, err := epd.New(ctx, tr, conf.EPDOpts())
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return dev, nil
}

func batteryReader(conf *config.Config, renderOnly bool) battery.Reader {
	switch {
	case !conf.Battery.Enabled:
		return battery.None{}
	case renderOnly:
		// Keep the battery line in previews without touching I2C.
		return battery.Fixed{Percent: 100}
	default:
		return battery.NewI2CReader(conf.Battery.I2CBus, conf.Battery.I2CAddr)
	}
}

func clockFace(conf *config.Config) xfont.Face {
	if conf.Screen.TTFSize <= 0 {
		return nil
	}
	face, err := fonts.LoadTrueType(conf.Screen.TTFFont, conf.Screen.TTFSize)
	if err != nil {
		appLog.Error("failed to load clock font; using bitmap font", err, "path", conf.Screen.TTFFont)
		return nil
	}
	return face
}

// dump writes the packed panel buffer and a PNG preview into dir.
func dump(st *app.Station, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	binPath := filepath.Join(dir, "black.bin")
	if err := os.WriteFile(binPath, st.Bytes(), 0o644); err != nil {
		return err
	}

	pngPath := filepath.Join(dir, "preview.png")
	f, err := os.Create(pngPath)
	if err != nil {
		return err
	}
	if err := st.WritePreview(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	appLog.Info("dumped debug artifacts", "black", binPath, "preview", pngPath)
	return nil
}
