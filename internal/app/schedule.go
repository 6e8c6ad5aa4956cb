package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ssd1680/internal/log"
)

// ValidateSpec reports whether spec is a usable refresh schedule. It accepts
// standard five-field specs and descriptors such as "@hourly" or "@every 5m".
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("app: schedule %q: %w", spec, err)
	}
	return nil
}

// Schedule ticks st on spec in loc until ctx is cancelled. Ticks never
// overlap; a tick still running when the next one is due causes it to be
// skipped.
func Schedule(ctx context.Context, spec string, loc *time.Location, st *Station) error {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		if err := st.Tick(ctx, time.Now()); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("app: schedule %q: %w", spec, err)
	}

	appLog.Info("refresh schedule started", "spec", spec, "timezone", loc.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh schedule stopped")
	return nil
}
