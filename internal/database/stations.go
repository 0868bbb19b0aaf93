package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stationbook/internal/models"
)

const stationColumns = `venue_id, id, room_name, station_type, price_per_hour, status,
	active_reservation_id, session_started_at, updated_at`

func scanStation(row interface{ Scan(...interface{}) error }) (models.Station, error) {
	var s models.Station
	var reservationID sql.NullString
	var started sql.NullTime
	var status string
	err := row.Scan(&s.VenueID, &s.ID, &s.RoomName, &s.Type, &s.PricePerHour, &status,
		&reservationID, &started, &s.UpdatedAt)
	if err != nil {
		return s, err
	}
	s.Status = models.StationStatus(status)
	s.ActiveReservationID = reservationID.String
	s.SessionStartedAt = timePtr(started)
	return s, nil
}

func queryStations(ctx context.Context, q querier, query string, args ...interface{}) ([]models.Station, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, s)
	}
	return stations, rows.Err()
}

func listStations(ctx context.Context, q querier, venueID string) ([]models.Station, error) {
	return queryStations(ctx, q, `SELECT `+stationColumns+`
		FROM stations WHERE venue_id = ? AND is_retired = 0
		ORDER BY position, id`, venueID)
}

func getStation(ctx context.Context, q querier, venueID, stationID string) (*models.Station, error) {
	s, err := scanStation(q.QueryRowContext(ctx, `SELECT `+stationColumns+`
		FROM stations WHERE venue_id = ? AND id = ? AND is_retired = 0`, venueID, stationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFound("station", stationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get station %s/%s: %w", venueID, stationID, err)
	}
	return &s, nil
}

// ListStations returns every live station of a venue in inventory order.
func (db *DB) ListStations(ctx context.Context, venueID string) ([]models.Station, error) {
	return listStations(ctx, db.DB, venueID)
}

// GetStation returns one station.
func (db *DB) GetStation(ctx context.Context, venueID, stationID string) (*models.Station, error) {
	return getStation(ctx, db.DB, venueID, stationID)
}

// GetStation returns one station on the transaction connection.
func (t *Tx) GetStation(ctx context.Context, venueID, stationID string) (*models.Station, error) {
	return getStation(ctx, t.Tx, venueID, stationID)
}

// ListAvailableStations returns Available stations, optionally filtered by room and type.
func (db *DB) ListAvailableStations(ctx context.Context, venueID, roomName, stationType string) ([]models.Station, error) {
	query := `SELECT ` + stationColumns + `
		FROM stations
		WHERE venue_id = ? AND is_retired = 0 AND status = ? AND active_reservation_id IS NULL`
	args := []interface{}{venueID, models.StationAvailable}
	if roomName != "" {
		query += ` AND room_name = ?`
		args = append(args, roomName)
	}
	if stationType != "" {
		query += ` AND station_type = ?`
		args = append(args, stationType)
	}
	query += ` ORDER BY position, id`
	return queryStations(ctx, db.DB, query, args...)
}

// AcquireStation flips an Available station to Active for reservationID.
// It reports false when the station was not Available.
func (t *Tx) AcquireStation(ctx context.Context, venueID, stationID, reservationID string, at time.Time) (bool, error) {
	result, err := t.ExecContext(ctx, `
		UPDATE stations
		SET status = ?, active_reservation_id = ?, session_started_at = ?, updated_at = ?
		WHERE venue_id = ? AND id = ? AND is_retired = 0
		  AND status = ? AND active_reservation_id IS NULL`,
		models.StationActive, reservationID, at.UTC(), time.Now().UTC(),
		venueID, stationID, models.StationAvailable,
	)
	if err != nil {
		return false, fmt.Errorf("acquire station %s/%s: %w", venueID, stationID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStation frees a station only if it still points at reservationID.
func (t *Tx) ReleaseStation(ctx context.Context, venueID, stationID, reservationID string) (bool, error) {
	result, err := t.ExecContext(ctx, `
		UPDATE stations
		SET status = ?, active_reservation_id = NULL, session_started_at = NULL, updated_at = ?
		WHERE venue_id = ? AND id = ? AND active_reservation_id = ?`,
		models.StationAvailable, time.Now().UTC(), venueID, stationID, reservationID,
	)
	if err != nil {
		return false, fmt.Errorf("release station %s/%s: %w", venueID, stationID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStationsOf frees every station whose back-reference is reservationID.
func (t *Tx) ReleaseStationsOf(ctx context.Context, venueID, reservationID string) (int64, error) {
	result, err := t.ExecContext(ctx, `
		UPDATE stations
		SET status = ?, active_reservation_id = NULL, session_started_at = NULL, updated_at = ?
		WHERE venue_id = ? AND active_reservation_id = ?`,
		models.StationAvailable, time.Now().UTC(), venueID, reservationID,
	)
	if err != nil {
		return 0, fmt.Errorf("release stations of %s: %w", reservationID, err)
	}
	return result.RowsAffected()
}

// SetStationStatus moves a station from one idle status to another.
// It reports false when the station was not in status from or is bound to a reservation.
func (db *DB) SetStationStatus(ctx context.Context, venueID, stationID string, from, to models.StationStatus) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE stations SET status = ?, updated_at = ?
		WHERE venue_id = ? AND id = ? AND is_retired = 0
		  AND status = ? AND active_reservation_id IS NULL`,
		to, time.Now().UTC(), venueID, stationID, from,
	)
	if err != nil {
		return false, fmt.Errorf("set station %s/%s status: %w", venueID, stationID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOrphanedStations returns stations whose Active marking is not backed by an Active reservation.
func (t *Tx) ListOrphanedStations(ctx context.Context) ([]models.Station, error) {
	return queryStations(ctx, t.Tx, `
		SELECT s.venue_id, s.id, s.room_name, s.station_type, s.price_per_hour, s.status,
		       s.active_reservation_id, s.session_started_at, s.updated_at
		FROM stations s
		LEFT JOIN reservations r ON r.id = s.active_reservation_id
		WHERE (s.active_reservation_id IS NOT NULL AND (r.id IS NULL OR r.status != ?))
		   OR (s.status = ? AND s.active_reservation_id IS NULL)
		ORDER BY s.venue_id, s.id`,
		models.StatusActive, models.StationActive,
	)
}

// ClearStation resets an orphaned station to Available.
func (t *Tx) ClearStation(ctx context.Context, venueID, stationID string) error {
	_, err := t.ExecContext(ctx, `
		UPDATE stations
		SET status = CASE WHEN status = ? THEN status ELSE ? END,
		    active_reservation_id = NULL, session_started_at = NULL, updated_at = ?
		WHERE venue_id = ? AND id = ?`,
		models.StationUnderMaintenance, models.StationAvailable, time.Now().UTC(), venueID, stationID,
	)
	if err != nil {
		return fmt.Errorf("clear station %s/%s: %w", venueID, stationID, err)
	}
	return nil
}
