package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/slot-reservation-engine/internal/schedule"
)

// ExpireStalePending cancels pending reservations created more than ttl ago and
// releases their slots. It is intended to be called by the sweeper periodically.
func (a *Allocator) ExpireStalePending(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}

	candidates, err := a.repo.FindStalePending(ctx, a.clock.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("find stale pending reservations: %w", err)
	}

	expired := 0
	for _, res := range candidates {
		_, err := a.cancel(ctx, res.ID, "pending_expired")
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			a.logger.Warn("failed to expire reservation", zap.Stringer("reservation_id", res.ID), zap.Error(err))
			continue
		}
		expired++
	}

	return expired, nil
}

// Materialize creates the day rows of every open date inside each active template's
// booking window ahead of demand. Rows are also created lazily on first booking, so
// this is only an optimisation: a service that fails is logged and skipped until the
// next run. Only context cancellation stops the whole pass.
func (a *Allocator) Materialize(ctx context.Context, templates []schedule.Template) (int, error) {
	today := a.today()
	ensured := 0

	for i := range templates {
		tpl := &templates[i]
		if !tpl.Active {
			continue
		}
		first, last := tpl.Window(today)
		for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
			if tpl.OpenMask(d.Weekday()) == 0 {
				continue
			}
			if _, err := a.repo.GetOrCreateDay(ctx, tpl.ServiceID, d); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ensured, fmt.Errorf("materialize: %w", ctxErr)
				}
				a.logger.Warn("failed to materialize day, skipping service",
					zap.Stringer("service_id", tpl.ServiceID),
					zap.String("date", d.Format(time.DateOnly)),
					zap.Error(err))
				break
			}
			ensured++
		}
	}

	return ensured, nil
}
