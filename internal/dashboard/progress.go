package dashboard

import (
	"context"
	"errors"
	"time"

	"sar/internal/client"
	"sar/internal/model"
	"sar/internal/store"
)

// LoadProgress fetches progress rows for the store's filter. A fetch
// superseded by a newer one returns client.ErrSuperseded and leaves the
// store untouched; other failures keep whatever the store already shows,
// which is the bundled dataset until a load succeeds.
func (a *App) LoadProgress(ctx context.Context) error {
	rows, err := a.apis.Progress.Fetch(ctx, a.Progress.Filter())
	if err != nil {
		if !errors.Is(err, client.ErrSuperseded) {
			a.record(model.ActionView, moduleProgress, "Load UAR progress", err)
		}
		return err
	}
	a.Progress.SetData(rows)
	return nil
}

// FilterProgress applies partial to the progress filter and reloads.
func (a *App) FilterProgress(ctx context.Context, partial model.ProgressFilter) error {
	a.Progress.SetFilter(partial)
	return a.LoadProgress(ctx)
}

func (a *App) GrandTotal() float64 { return a.Progress.GrandTotal() }

func (a *App) DivisionSummary() []store.Summary { return a.Progress.DivisionSummary() }

func (a *App) SystemSummary() []store.Summary { return a.Progress.SystemSummary() }

// AutoRefreshProgress reloads progress every interval, bypassing the list
// cache, until ctx is cancelled. Failures are logged and the next tick
// retries.
func (a *App) AutoRefreshProgress(ctx context.Context, interval time.Duration) {
	ticker := a.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			a.apis.Progress.Invalidate()
			if err := a.LoadProgress(ctx); err != nil && ctx.Err() == nil {
				a.log.WithError(err).Warn("progress refresh failed")
			}
		}
	}
}
