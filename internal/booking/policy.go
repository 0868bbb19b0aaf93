package booking

import (
	"fmt"
	"time"

	"stationbook/internal/models"
	"stationbook/internal/timewindow"
)

// checkCancelWindow applies the cancellation rule:
// a future date may always be cancelled, today only until start + grace, a past date never.
func checkCancelWindow(r *models.Reservation, now time.Time, grace time.Duration, loc *time.Location) error {
	today := timewindow.DateOf(now, loc)
	switch {
	case r.BookingDate > today:
		return nil
	case r.BookingDate < today:
		return fmt.Errorf("%w: booking date %s has passed", models.ErrCancellationWindowClosed, r.BookingDate)
	}

	start, err := timewindow.StartInstant(r.BookingDate, r.StartTime, loc)
	if err != nil {
		return err
	}
	if deadline := start.Add(grace); now.After(deadline) {
		return fmt.Errorf("%w: cancellation closed at %s", models.ErrCancellationWindowClosed,
			deadline.Format("03:04 PM"))
	}
	return nil
}
