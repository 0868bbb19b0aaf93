package booking

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"stationbook/internal/database"
	"stationbook/internal/events"
	"stationbook/internal/metrics"
	"stationbook/internal/models"
	"stationbook/internal/timewindow"
	"stationbook/shared/access"

	"github.com/shopspring/decimal"
)

// Cancel cancels a Booked reservation inside the cancellation window.
// A wallet-paid remote reservation yields a refund instruction, also published on the bus.
func (m *Manager) Cancel(ctx context.Context, p access.Principal, id, reason string) (res *models.Reservation, refund *models.RefundInstruction, err error) {
	defer func() { m.observe("cancel", err) }()

	r, err := m.db.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := m.access.CanCancel(p, r); err != nil {
		return nil, nil, err
	}
	if err := requireTransition(r, models.StatusCancelled, "cancel"); err != nil {
		return nil, nil, err
	}
	venue, err := m.db.GetVenue(ctx, r.VenueID)
	if err != nil {
		return nil, nil, err
	}
	now := m.clock.Now()
	if err := checkCancelWindow(r, now, m.opts.CancelGrace, m.location(venue)); err != nil {
		return nil, nil, err
	}

	cancelledAt := now
	r.Status = models.StatusCancelled
	r.CancelledAt = &cancelledAt
	if r.IsPaid && r.PaymentMethod == models.PaymentWallet && r.CustomerID != "" {
		if reason == "" {
			reason = "reservation cancelled"
		}
		refund = &models.RefundInstruction{
			ReservationID: r.ID,
			CustomerID:    r.CustomerID,
			Amount:        r.TotalPrice,
			Destination:   string(models.PaymentWallet),
			Reason:        reason,
		}
		r.PaymentStatus = models.PaymentRefunded
	}

	ok, err := m.db.UpdateReservation(ctx, r, models.StatusBooked)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, m.stateOrConflict(ctx, id, "cancel")
	}

	m.availability.Invalidate(ctx, r.VenueID, r.BookingDate)
	metrics.IncTransition(string(models.StatusBooked), string(models.StatusCancelled))
	m.bus.Emit(events.TypeReservationCancelled, r.Redacted())
	if refund != nil {
		m.bus.Emit(events.TypeRefundRequested, refund)
	}
	m.logger.Info().
		Str("reservation_id", r.ID).
		Str("by", p.ID).
		Bool("refund", refund != nil).
		Msg("Reservation cancelled")
	return m.present(p, r), refund, nil
}

// SweepCancelled marks reservations cancelled for longer than the configured delay as permanently cancelled.
func (m *Manager) SweepCancelled(ctx context.Context) (int, error) {
	list, err := m.db.ListCancelledForSweep(ctx)
	if err != nil {
		return 0, err
	}
	now := m.clock.Now()
	swept := 0
	for _, r := range list {
		if r.CancelledAt == nil || now.Sub(*r.CancelledAt) < m.opts.PermanentCancelAfter {
			continue
		}
		ok, err := m.db.MarkPermanentlyCancelled(ctx, r.ID)
		if err != nil {
			m.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("Failed to mark permanently cancelled")
			continue
		}
		if ok {
			swept++
		}
	}
	return swept, nil
}

// Assignment names the concrete stations serving one line item.
// StationType may be empty when the room has a single line item.
type Assignment struct {
	RoomName    string   `json:"room_name"`
	StationType string   `json:"station_type,omitempty"`
	StationIDs  []string `json:"station_ids"`
}

// AssignRequest activates a Booked reservation.
type AssignRequest struct {
	Code        string       `json:"code,omitempty"`
	Assignments []Assignment `json:"assignments"`
}

// matchAssignments maps assignments onto line items and checks the counts.
func matchAssignments(items []models.LineItem, assignments []Assignment) ([]models.Binding, error) {
	counts := make([]int, len(items))
	seen := make(map[string]bool)
	var bindings []models.Binding

	for _, a := range assignments {
		idx := -1
		for i, it := range items {
			if it.RoomName != a.RoomName {
				continue
			}
			if a.StationType == "" || a.StationType == it.StationType {
				if idx >= 0 {
					return nil, fmt.Errorf("%w: room %s has several line items, station type is required",
						models.ErrAssignmentMismatch, a.RoomName)
				}
				idx = i
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: no line item for %s/%s", models.ErrAssignmentMismatch, a.RoomName, a.StationType)
		}

		for _, raw := range a.StationIDs {
			id := strings.TrimSpace(raw)
			if id == "" {
				return nil, fmt.Errorf("%w: empty station id", models.ErrAssignmentMismatch)
			}
			if seen[id] {
				return nil, fmt.Errorf("%w: station %s assigned twice", models.ErrAssignmentMismatch, id)
			}
			seen[id] = true
			counts[idx]++
			bindings = append(bindings, models.Binding{
				StationID:   id,
				RoomName:    items[idx].RoomName,
				StationType: items[idx].StationType,
			})
		}
	}

	total := 0
	for i, it := range items {
		if counts[i] != it.Quantity {
			return nil, fmt.Errorf("%w: %s/%s needs %d stations, got %d",
				models.ErrAssignmentMismatch, it.RoomName, it.StationType, it.Quantity, counts[i])
		}
		total += it.Quantity
	}
	if len(bindings) != total {
		return nil, fmt.Errorf("%w: expected %d stations, got %d", models.ErrAssignmentMismatch, total, len(bindings))
	}
	return bindings, nil
}

// Assign binds concrete stations to a Booked reservation and starts its session.
// Either every station flips to Active or none does.
func (m *Manager) Assign(ctx context.Context, p access.Principal, id string, req AssignRequest) (res *models.Reservation, err error) {
	defer func() { m.observe("assign", err) }()

	r, err := m.db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperate(p, r, "assign"); err != nil {
		return nil, err
	}
	if err := requireTransition(r, models.StatusActive, "assign"); err != nil {
		return nil, err
	}
	if r.VerificationCode != "" &&
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Code)), []byte(r.VerificationCode)) != 1 {
		return nil, models.ErrInvalidCode
	}
	bindings, err := matchAssignments(r.Items, req.Assignments)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	err = m.db.WithTx(ctx, func(tx *database.Tx) error {
		fresh, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Version != r.Version {
			return wrapLost(id)
		}
		if err := m.ledger.Acquire(ctx, tx, r.VenueID, r.ID, bindings, now); err != nil {
			return err
		}

		start := now
		end := now.Add(r.DurationValue())
		r.Status = models.StatusActive
		r.SessionStartTime = &start
		r.CalculatedEndTime = &end
		r.Bindings = bindings
		ok, err := tx.UpdateReservation(ctx, r, models.StatusBooked)
		if err != nil {
			return err
		}
		if !ok {
			return wrapLost(id)
		}
		return tx.ResetReminder(ctx, r.ID)
	})
	if errors.Is(err, errLostRace) {
		return nil, m.stateOrConflict(ctx, id, "assign")
	}
	if err != nil {
		return nil, err
	}

	metrics.IncTransition(string(models.StatusBooked), string(models.StatusActive))
	m.bus.Emit(events.TypeReservationActivated, r.Redacted())
	m.logger.Info().
		Str("reservation_id", r.ID).
		Strs("stations", r.StationIDs()).
		Time("ends_at", *r.CalculatedEndTime).
		Msg("Session started")
	return r.Redacted(), nil
}

// Extend adds hours to an Active session at the current inventory price.
// The end is always recomputed from the session start, never accumulated.
func (m *Manager) Extend(ctx context.Context, p access.Principal, id string, hours float64) (res *models.Reservation, err error) {
	defer func() { m.observe("extend", err) }()

	if err := timewindow.ValidateDuration(hours); err != nil {
		return nil, err
	}
	r, err := m.db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperate(p, r, "extend"); err != nil {
		return nil, err
	}
	if r.Status != models.StatusActive {
		return nil, &models.StateError{ReservationID: r.ID, Status: r.Status, Operation: "extend"}
	}
	if r.SessionStartTime == nil {
		return nil, &models.StateError{ReservationID: r.ID, Status: r.Status, Operation: "extend session without start time of"}
	}

	venue, err := m.db.GetVenue(ctx, r.VenueID)
	if err != nil {
		return nil, err
	}
	delta := decimal.Zero
	added := decimal.NewFromFloat(hours)
	for _, it := range r.Items {
		group, err := venue.Group(it.RoomName, it.StationType)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", models.ErrPriceResolutionFailed, it.RoomName, it.StationType, err)
		}
		delta = delta.Add(group.PricePerHour.Mul(added).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	// The session may run past midnight; only hours on the booking date are checked.
	addedWindow := timewindow.Extension(r.StartHour, r.Duration, hours)

	unlock := m.locks.Lock(itemKeys(r.VenueID, r.BookingDate, r.Items)...)
	defer unlock()

	err = m.db.WithTx(ctx, func(tx *database.Tx) error {
		fresh, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Version != r.Version || fresh.Status != models.StatusActive {
			return wrapLost(id)
		}
		if len(addedWindow.Hours()) > 0 {
			if err := checkCapacity(ctx, tx, venue, r, addedWindow, r.ID); err != nil {
				return err
			}
		}

		r.Duration += hours
		r.ExtendedHours += hours
		r.TotalPrice = r.TotalPrice.Add(delta)
		end := r.SessionStartTime.Add(r.DurationValue())
		r.CalculatedEndTime = &end

		ok, err := tx.UpdateReservation(ctx, r, models.StatusActive)
		if err != nil {
			return err
		}
		if !ok {
			return wrapLost(id)
		}
		return tx.ResetReminder(ctx, r.ID)
	})
	if errors.Is(err, errLostRace) {
		return nil, m.stateOrConflict(ctx, id, "extend")
	}
	if err != nil {
		return nil, err
	}

	m.availability.Invalidate(ctx, r.VenueID, r.BookingDate)
	m.bus.Emit(events.TypeReservationExtended, r.Redacted())
	m.logger.Info().
		Str("reservation_id", r.ID).
		Float64("hours", hours).
		Str("price_delta", delta.String()).
		Time("ends_at", *r.CalculatedEndTime).
		Msg("Session extended")
	return r.Redacted(), nil
}

// Complete ends an Active session and frees its stations.
// If the session was already completed (by the reconciler or a concurrent call) the current
// reservation is returned without error.
func (m *Manager) Complete(ctx context.Context, p access.Principal, id string) (res *models.Reservation, err error) {
	defer func() { m.observe("complete", err) }()

	r, err := m.db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperate(p, r, "complete"); err != nil {
		return nil, err
	}
	if r.Status == models.StatusCompleted {
		return r.Redacted(), nil
	}
	if err := requireTransition(r, models.StatusCompleted, "complete"); err != nil {
		return nil, err
	}

	done, err := CompleteSession(ctx, m.db, m.ledger, r.ID, m.clock.Now(), false)
	if err != nil {
		return nil, err
	}
	if done == nil {
		current, err := m.db.GetReservation(ctx, id)
		if err != nil {
			return nil, err
		}
		return current.Redacted(), nil
	}

	m.availability.Invalidate(ctx, done.VenueID, done.BookingDate)
	metrics.IncTransition(string(models.StatusActive), string(models.StatusCompleted))
	m.bus.Emit(events.TypeReservationCompleted, done.Redacted())
	m.logger.Info().Str("reservation_id", done.ID).Str("by", p.ID).Msg("Session completed")
	return done.Redacted(), nil
}
