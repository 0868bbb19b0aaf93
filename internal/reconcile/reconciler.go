// Package reconcile completes expired sessions and repairs inconsistent reservation state.
package reconcile

import (
	"context"
	"errors"
	"time"

	"stationbook/internal/booking"
	"stationbook/internal/clock"
	"stationbook/internal/database"
	"stationbook/internal/events"
	"stationbook/internal/ledger"
	"stationbook/internal/metrics"
	"stationbook/internal/models"

	"github.com/rs/zerolog"
)

// Sweeper finalizes cancelled reservations.
type Sweeper interface {
	SweepCancelled(ctx context.Context) (int, error)
}

// Invalidator drops cached free counts of a venue date after its reservations change.
type Invalidator interface {
	Invalidate(ctx context.Context, venueID, date string)
}

// Report summarizes one reconciliation pass.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Checked   int           `json:"checked"`
	Completed int           `json:"completed"`
	Released  int           `json:"released"`
	Orphans   int           `json:"orphans"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Swept     int           `json:"swept"`
}

// FixReport summarizes a repair run.
type FixReport struct {
	Checked  int      `json:"checked"`
	Reverted int      `json:"reverted"`
	Skipped  int      `json:"skipped"`
	IDs      []string `json:"ids,omitempty"`
}

// Reconciler owns the expiry pass and the repair paths.
type Reconciler struct {
	db      *database.DB
	ledger  *ledger.Ledger
	sweeper Sweeper
	slots   Invalidator
	bus     *events.EventBus
	clock   clock.Clock
	logger  zerolog.Logger
}

// New builds a Reconciler. sweeper and slots may be nil.
func New(db *database.DB, l *ledger.Ledger, sweeper Sweeper, slots Invalidator, bus *events.EventBus, clk clock.Clock, logger *zerolog.Logger) *Reconciler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Reconciler{
		db:      db,
		ledger:  l,
		sweeper: sweeper,
		slots:   slots,
		bus:     bus,
		clock:   clk,
		logger:  logger.With().Str("component", "reconcile").Logger(),
	}
}

// RunNow completes every Active reservation whose effective end has passed, releases orphaned
// stations and sweeps cancelled reservations. Failures on one reservation do not stop the pass.
func (r *Reconciler) RunNow(ctx context.Context) Report {
	report := Report{StartedAt: r.clock.Now()}
	started := time.Now()
	defer func() {
		report.Duration = time.Since(started)
		metrics.ObserveReconcile(report.Duration.Seconds())
		metrics.AddReconcileAction("completed", report.Completed)
		metrics.AddReconcileAction("released", report.Released)
		metrics.AddReconcileAction("orphans", report.Orphans)
		metrics.AddReconcileAction("skipped", report.Skipped)
		metrics.AddReconcileAction("failed", report.Failed)
		metrics.AddReconcileAction("swept", report.Swept)
	}()

	active, err := r.db.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list active reservations")
		report.Failed++
		return report
	}
	report.Checked = len(active)

	for i := range active {
		if ctx.Err() != nil {
			r.logger.Info().
				Int("processed", i).
				Int("remaining", len(active)-i).
				Msg("Reconciliation interrupted")
			return report
		}

		res := &active[i]
		end, ok := res.EffectiveEnd()
		if !ok {
			r.logger.Warn().Str("reservation_id", res.ID).Msg("Active reservation has no session timestamps, skipping")
			report.Skipped++
			continue
		}
		now := r.clock.Now()
		if end.After(now) {
			continue
		}

		done, err := booking.CompleteSession(ctx, r.db, r.ledger, res.ID, now, true)
		if err != nil {
			r.logger.Error().Err(err).Str("reservation_id", res.ID).Msg("Failed to complete expired session")
			report.Failed++
			continue
		}
		if done == nil {
			continue
		}
		r.invalidate(ctx, done)
		report.Completed++
		report.Released += len(done.Bindings)
		metrics.IncTransition(string(models.StatusActive), string(models.StatusCompleted))
		r.bus.Emit(events.TypeReservationCompleted, done.Redacted())
		r.logger.Info().
			Str("reservation_id", done.ID).
			Time("effective_end", end).
			Strs("stations", done.StationIDs()).
			Msg("Expired session completed")
	}

	orphans, err := r.ledger.ReleaseOrphans(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to release orphaned stations")
		report.Failed++
	}
	report.Orphans = orphans

	if r.sweeper != nil {
		swept, err := r.sweeper.SweepCancelled(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("Failed to sweep cancelled reservations")
			report.Failed++
		}
		report.Swept = swept
	}

	if report.Completed+report.Orphans+report.Swept+report.Failed > 0 {
		r.logger.Info().
			Int("checked", report.Checked).
			Int("completed", report.Completed).
			Int("released", report.Released).
			Int("orphans", report.Orphans).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Int("swept", report.Swept).
			Msg("Reconciliation pass finished")
	}
	return report
}

func (r *Reconciler) invalidate(ctx context.Context, res *models.Reservation) {
	if r.slots != nil {
		r.slots.Invalidate(ctx, res.VenueID, res.BookingDate)
	}
}

var errChanged = errors.New("reservation changed during repair")

// RevertStaleActivations moves Active reservations that never got session timestamps back to
// Booked and frees their stations. An empty venueID repairs every venue.
func (r *Reconciler) RevertStaleActivations(ctx context.Context, venueID string) (FixReport, error) {
	var report FixReport
	active, err := r.db.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return report, err
	}

	for i := range active {
		res := &active[i]
		if venueID != "" && res.VenueID != venueID {
			continue
		}
		report.Checked++
		if res.SessionStartTime != nil && res.CalculatedEndTime != nil {
			continue
		}

		err := r.db.WithTx(ctx, func(tx *database.Tx) error {
			fresh, err := tx.GetReservation(ctx, res.ID)
			if err != nil {
				return err
			}
			if !booking.CanRepair(fresh.Status, models.StatusBooked) || fresh.Version != res.Version {
				return errChanged
			}
			if _, err := r.ledger.Release(ctx, tx, fresh.VenueID, fresh.ID, fresh.StationIDs()); err != nil {
				return err
			}
			fresh.Status = models.StatusBooked
			fresh.SessionStartTime = nil
			fresh.CalculatedEndTime = nil
			fresh.Bindings = nil
			ok, err := tx.UpdateReservation(ctx, fresh, models.StatusActive)
			if err != nil {
				return err
			}
			if !ok {
				return errChanged
			}
			res = fresh
			return nil
		})
		if errors.Is(err, errChanged) {
			report.Skipped++
			continue
		}
		if err != nil {
			return report, err
		}

		r.invalidate(ctx, res)
		report.Reverted++
		report.IDs = append(report.IDs, res.ID)
		metrics.IncTransition(string(models.StatusActive), string(models.StatusBooked))
		r.bus.Emit(events.TypeReservationReverted, res.Redacted())
		r.logger.Warn().Str("reservation_id", res.ID).Msg("Stale activation reverted to booked")
	}
	return report, nil
}

// RevertPrematureCompletions reopens Completed reservations whose session end is still ahead.
// Stations are re-acquired by CAS; a reservation is skipped if any of them is taken.
func (r *Reconciler) RevertPrematureCompletions(ctx context.Context, venueID string) (FixReport, error) {
	var report FixReport
	completed, err := r.db.ListByStatus(ctx, models.StatusCompleted)
	if err != nil {
		return report, err
	}

	now := r.clock.Now()
	for i := range completed {
		res := &completed[i]
		if venueID != "" && res.VenueID != venueID {
			continue
		}
		report.Checked++
		if res.CalculatedEndTime == nil || !res.CalculatedEndTime.After(now) || len(res.Bindings) == 0 {
			continue
		}

		err := r.db.WithTx(ctx, func(tx *database.Tx) error {
			fresh, err := tx.GetReservation(ctx, res.ID)
			if err != nil {
				return err
			}
			if !booking.CanRepair(fresh.Status, models.StatusActive) || fresh.Version != res.Version {
				return errChanged
			}
			at := now
			if fresh.SessionStartTime != nil {
				at = *fresh.SessionStartTime
			}
			if err := r.ledger.Acquire(ctx, tx, fresh.VenueID, fresh.ID, fresh.Bindings, at); err != nil {
				return err
			}
			fresh.Status = models.StatusActive
			fresh.SessionEndTime = nil
			ok, err := tx.UpdateReservation(ctx, fresh, models.StatusCompleted)
			if err != nil {
				return err
			}
			if !ok {
				return errChanged
			}
			res = fresh
			return tx.ResetReminder(ctx, fresh.ID)
		})
		if errors.Is(err, errChanged) || errors.Is(err, models.ErrStationUnavailable) || errors.Is(err, models.ErrNotFound) {
			r.logger.Info().Err(err).Str("reservation_id", res.ID).Msg("Premature completion left as is")
			report.Skipped++
			continue
		}
		if err != nil {
			return report, err
		}

		r.invalidate(ctx, res)
		report.Reverted++
		report.IDs = append(report.IDs, res.ID)
		metrics.IncTransition(string(models.StatusCompleted), string(models.StatusActive))
		r.bus.Emit(events.TypeReservationReverted, res.Redacted())
		r.logger.Warn().Str("reservation_id", res.ID).Time("ends_at", *res.CalculatedEndTime).Msg("Premature completion reopened")
	}
	return report, nil
}
