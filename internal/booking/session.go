package booking

import (
	"context"
	"errors"
	"time"

	"stationbook/internal/database"
	"stationbook/internal/ledger"
	"stationbook/internal/models"
)

// CompleteSession releases the stations of an Active reservation and marks it Completed,
// in one transaction. With requireExpired the fresh row must also have reached its effective end.
// It returns nil without error when there was nothing to do: the reservation had already left
// Active, was not yet expired, or another writer changed it first.
func CompleteSession(ctx context.Context, db *database.DB, l *ledger.Ledger, id string, now time.Time, requireExpired bool) (*models.Reservation, error) {
	var done *models.Reservation
	err := db.WithTx(ctx, func(tx *database.Tx) error {
		fresh, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status != models.StatusActive {
			return nil
		}
		if requireExpired {
			end, ok := fresh.EffectiveEnd()
			if !ok || end.After(now) {
				return nil
			}
		}

		if _, err := l.Release(ctx, tx, fresh.VenueID, fresh.ID, fresh.StationIDs()); err != nil {
			return err
		}

		ended := now
		fresh.Status = models.StatusCompleted
		fresh.SessionEndTime = &ended
		ok, err := tx.UpdateReservation(ctx, fresh, models.StatusActive)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		done = fresh
		return nil
	})
	if errors.Is(err, errLostRace) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return done, nil
}
