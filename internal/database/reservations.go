package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stationbook/internal/models"
)

const reservationColumns = `id, customer_id, walk_in_name, phone, venue_id, owner_id,
	booking_date, start_time, start_hour, duration, total_price, status,
	session_start_time, calculated_end_time, session_end_time, extended_hours,
	verification_code, permanently_cancelled, cancelled_at,
	payment_method, payment_status, is_paid, payment_reference, friend_count,
	created_at, updated_at, version`

func scanReservation(row interface{ Scan(...interface{}) error }) (*models.Reservation, error) {
	var r models.Reservation
	var customerID, walkInName, phone, code, method, reference sql.NullString
	var status, paymentStatus string
	var sessionStart, calculatedEnd, sessionEnd, cancelledAt sql.NullTime

	err := row.Scan(
		&r.ID, &customerID, &walkInName, &phone, &r.VenueID, &r.OwnerID,
		&r.BookingDate, &r.StartTime, &r.StartHour, &r.Duration, &r.TotalPrice, &status,
		&sessionStart, &calculatedEnd, &sessionEnd, &r.ExtendedHours,
		&code, &r.PermanentlyCancelled, &cancelledAt,
		&method, &paymentStatus, &r.IsPaid, &reference, &r.FriendCount,
		&r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.CustomerID = customerID.String
	r.WalkInName = walkInName.String
	r.Phone = phone.String
	r.Status = models.Status(status)
	r.SessionStartTime = timePtr(sessionStart)
	r.CalculatedEndTime = timePtr(calculatedEnd)
	r.SessionEndTime = timePtr(sessionEnd)
	r.VerificationCode = code.String
	r.CancelledAt = timePtr(cancelledAt)
	r.PaymentMethod = models.PaymentMethod(method.String)
	r.PaymentStatus = models.PaymentStatus(paymentStatus)
	r.PaymentReference = reference.String
	return &r, nil
}

// queryReservations runs query and loads items and bindings of every row.
func queryReservations(ctx context.Context, q querier, query string, args ...interface{}) ([]models.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := loadChildren(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadChildren(ctx context.Context, q querier, r *models.Reservation) error {
	rows, err := q.QueryContext(ctx, `
		SELECT room_name, station_type, quantity, price_per_hour
		FROM reservation_items WHERE reservation_id = ? ORDER BY position`, r.ID)
	if err != nil {
		return fmt.Errorf("load items of %s: %w", r.ID, err)
	}
	r.Items = nil
	for rows.Next() {
		var it models.LineItem
		if err := rows.Scan(&it.RoomName, &it.StationType, &it.Quantity, &it.PricePerHour); err != nil {
			rows.Close()
			return err
		}
		r.Items = append(r.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx, `
		SELECT station_id, room_name, station_type
		FROM reservation_bindings WHERE reservation_id = ? ORDER BY station_id`, r.ID)
	if err != nil {
		return fmt.Errorf("load bindings of %s: %w", r.ID, err)
	}
	defer rows.Close()
	r.Bindings = nil
	for rows.Next() {
		var b models.Binding
		if err := rows.Scan(&b.StationID, &b.RoomName, &b.StationType); err != nil {
			return err
		}
		r.Bindings = append(r.Bindings, b)
	}
	return rows.Err()
}

func getReservation(ctx context.Context, q querier, id string) (*models.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	if err := loadChildren(ctx, q, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetReservation returns a reservation with its line items and bindings.
func (db *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

// GetReservation re-reads a reservation on the transaction connection.
func (t *Tx) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	return getReservation(ctx, t.Tx, id)
}

func listClaims(ctx context.Context, q querier, venueID, date, roomName, stationType, excludeID string) ([]models.Reservation, error) {
	statuses := make([]string, len(models.ClaimingStatuses))
	args := []interface{}{venueID, date}
	for i, s := range models.ClaimingStatuses {
		statuses[i] = "?"
		args = append(args, s)
	}
	args = append(args, roomName, stationType, excludeID)

	return queryReservations(ctx, q, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE venue_id = ? AND booking_date = ? AND status IN (`+strings.Join(statuses, ",")+`)
		  AND id IN (SELECT reservation_id FROM reservation_items WHERE room_name = ? AND station_type = ?)
		  AND id != ?
		ORDER BY start_hour, created_at`, args...)
}

// ListClaims returns Booked and Active reservations of the venue and date that claim (room, type).
// excludeID, when set, leaves one reservation out.
func (db *DB) ListClaims(ctx context.Context, venueID, date, roomName, stationType, excludeID string) ([]models.Reservation, error) {
	return listClaims(ctx, db.DB, venueID, date, roomName, stationType, excludeID)
}

// ListClaims is the in-transaction re-read used before committing a new claim.
func (t *Tx) ListClaims(ctx context.Context, venueID, date, roomName, stationType, excludeID string) ([]models.Reservation, error) {
	return listClaims(ctx, t.Tx, venueID, date, roomName, stationType, excludeID)
}

// ListVenueClaims returns every Booked and Active reservation of a venue on date.
func (db *DB) ListVenueClaims(ctx context.Context, venueID, date string) ([]models.Reservation, error) {
	return queryReservations(ctx, db.DB, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE venue_id = ? AND booking_date = ? AND status IN (?, ?)
		ORDER BY start_hour, created_at`,
		venueID, date, models.StatusBooked, models.StatusActive)
}

// ListByVenueDate returns all reservations of a venue on date, any status.
func (db *DB) ListByVenueDate(ctx context.Context, venueID, date string) ([]models.Reservation, error) {
	return queryReservations(ctx, db.DB, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE venue_id = ? AND booking_date = ?
		ORDER BY start_hour, created_at`, venueID, date)
}

// ListByCustomer returns a customer's reservations, newest first.
func (db *DB) ListByCustomer(ctx context.Context, customerID string) ([]models.Reservation, error) {
	return queryReservations(ctx, db.DB, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE customer_id = ?
		ORDER BY booking_date DESC, start_hour DESC`, customerID)
}

// ListByStatus returns reservations in status, oldest first.
func (db *DB) ListByStatus(ctx context.Context, status models.Status) ([]models.Reservation, error) {
	return queryReservations(ctx, db.DB, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ?
		ORDER BY booking_date, start_hour`, status)
}

// ListCancelledForSweep returns Cancelled reservations not yet marked permanently cancelled.
func (db *DB) ListCancelledForSweep(ctx context.Context) ([]models.Reservation, error) {
	return queryReservations(ctx, db.DB, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND permanently_cancelled = 0 AND cancelled_at IS NOT NULL`,
		models.StatusCancelled)
}

// MarkPermanentlyCancelled flags a Cancelled reservation.
func (db *DB) MarkPermanentlyCancelled(ctx context.Context, id string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE reservations
		SET permanently_cancelled = 1, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND permanently_cancelled = 0`,
		time.Now().UTC(), id, models.StatusCancelled)
	if err != nil {
		return false, fmt.Errorf("mark %s permanently cancelled: %w", id, err)
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// InsertReservation stores a new reservation and its line items.
func (t *Tx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	_, err := t.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullString(r.CustomerID), nullString(r.WalkInName), nullString(r.Phone), r.VenueID, r.OwnerID,
		r.BookingDate, r.StartTime, r.StartHour, r.Duration, r.TotalPrice, r.Status,
		nullTime(r.SessionStartTime), nullTime(r.CalculatedEndTime), nullTime(r.SessionEndTime), r.ExtendedHours,
		nullString(r.VerificationCode), r.PermanentlyCancelled, nullTime(r.CancelledAt),
		nullString(string(r.PaymentMethod)), r.PaymentStatus, r.IsPaid, nullString(r.PaymentReference), r.FriendCount,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(), r.Version,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	for i, it := range r.Items {
		if _, err := t.ExecContext(ctx, `
			INSERT INTO reservation_items (reservation_id, position, room_name, station_type, quantity, price_per_hour)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, i, it.RoomName, it.StationType, it.Quantity, it.PricePerHour,
		); err != nil {
			return fmt.Errorf("insert reservation item: %w", err)
		}
	}
	return nil
}

// UpdateReservation writes the mutable fields of r, its line item prices and its bindings,
// but only if the stored row still has status expect and version r.Version.
// It reports false when another writer got there first. On success r.Version is incremented.
func (t *Tx) UpdateReservation(ctx context.Context, r *models.Reservation, expect models.Status) (bool, error) {
	now := time.Now().UTC()
	result, err := t.ExecContext(ctx, `
		UPDATE reservations SET
			duration = ?, total_price = ?, status = ?,
			session_start_time = ?, calculated_end_time = ?, session_end_time = ?, extended_hours = ?,
			permanently_cancelled = ?, cancelled_at = ?,
			payment_method = ?, payment_status = ?, is_paid = ?, payment_reference = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND version = ?`,
		r.Duration, r.TotalPrice, r.Status,
		nullTime(r.SessionStartTime), nullTime(r.CalculatedEndTime), nullTime(r.SessionEndTime), r.ExtendedHours,
		r.PermanentlyCancelled, nullTime(r.CancelledAt),
		nullString(string(r.PaymentMethod)), r.PaymentStatus, r.IsPaid, nullString(r.PaymentReference),
		now, r.ID, expect, r.Version,
	)
	if err != nil {
		return false, fmt.Errorf("update reservation %s: %w", r.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	for i, it := range r.Items {
		if _, err := t.ExecContext(ctx, `
			UPDATE reservation_items SET price_per_hour = ? WHERE reservation_id = ? AND position = ?`,
			it.PricePerHour, r.ID, i); err != nil {
			return false, fmt.Errorf("update item price: %w", err)
		}
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM reservation_bindings WHERE reservation_id = ?`, r.ID); err != nil {
		return false, fmt.Errorf("clear bindings: %w", err)
	}
	for _, b := range r.Bindings {
		if _, err := t.ExecContext(ctx, `
			INSERT INTO reservation_bindings (reservation_id, station_id, room_name, station_type)
			VALUES (?, ?, ?, ?)`, r.ID, b.StationID, b.RoomName, b.StationType); err != nil {
			return false, fmt.Errorf("insert binding: %w", err)
		}
	}

	r.Version++
	r.UpdatedAt = now
	return true, nil
}

// UpdateReservation runs the conditional update in its own transaction.
func (db *DB) UpdateReservation(ctx context.Context, r *models.Reservation, expect models.Status) (bool, error) {
	var ok bool
	err := db.WithTx(ctx, func(tx *Tx) error {
		var err error
		ok, err = tx.UpdateReservation(ctx, r, expect)
		return err
	})
	return ok, err
}

// ListEndingBetween returns Active reservations whose calculated end falls in [from, to)
// and whose staff reminder has not been sent.
func (db *DB) ListEndingBetween(ctx context.Context, from, to time.Time) ([]models.Reservation, error) {
	active, err := queryReservations(ctx, db.DB, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = ? AND reminder_sent = 0`, models.StatusActive)
	if err != nil {
		return nil, err
	}
	var out []models.Reservation
	for _, r := range active {
		end, ok := r.EffectiveEnd()
		if !ok || end.Before(from) || !end.Before(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// MarkReminderSent records that the session-ending notice went out.
func (db *DB) MarkReminderSent(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE reservations SET reminder_sent = 1 WHERE id = ?`, id)
	return err
}

// ResetReminder lets an extended session be reminded again.
func (t *Tx) ResetReminder(ctx context.Context, id string) error {
	_, err := t.ExecContext(ctx, `UPDATE reservations SET reminder_sent = 0 WHERE id = ?`, id)
	return err
}

// DeleteOldReservations removes finished reservations whose booking date is older than olderThan.
func (db *DB) DeleteOldReservations(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Format("2006-01-02")
	result, err := db.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE booking_date < ? AND status IN (?, ?)`,
		cutoff, models.StatusCompleted, models.StatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("delete old reservations: %w", err)
	}
	return result.RowsAffected()
}
