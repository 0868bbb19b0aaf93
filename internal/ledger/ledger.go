// Package ledger is the only writer of station status.
package ledger

import (
	"context"
	"time"

	"stationbook/internal/database"
	"stationbook/internal/models"

	"github.com/rs/zerolog"
)

type Ledger struct {
	db     *database.DB
	logger *zerolog.Logger
}

func New(db *database.DB, logger *zerolog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Acquire flips every bound station Available -> Active for reservationID inside tx.
// An unknown station id aborts with a NotFoundError. A station outside the bound room and
// type, or one that is not Available, aborts with a StationError. Either way the caller
// rolls tx back so no flip survives.
func (l *Ledger) Acquire(ctx context.Context, tx *database.Tx, venueID, reservationID string, bindings []models.Binding, at time.Time) error {
	for _, b := range bindings {
		st, err := tx.GetStation(ctx, venueID, b.StationID)
		if err != nil {
			return err
		}
		if st.RoomName != b.RoomName || st.Type != b.StationType {
			return &models.StationError{StationID: b.StationID, Err: models.ErrStationUnavailable}
		}

		ok, err := tx.AcquireStation(ctx, venueID, b.StationID, reservationID, at)
		if err != nil {
			return err
		}
		if !ok {
			return &models.StationError{StationID: b.StationID, Err: models.ErrStationUnavailable}
		}
	}
	return nil
}

// Release frees the listed stations, then scans for any other station still pointing at
// reservationID. It returns how many stations were freed.
func (l *Ledger) Release(ctx context.Context, tx *database.Tx, venueID, reservationID string, stationIDs []string) (int, error) {
	released := 0
	for _, id := range stationIDs {
		ok, err := tx.ReleaseStation(ctx, venueID, id, reservationID)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}

	extra, err := tx.ReleaseStationsOf(ctx, venueID, reservationID)
	if err != nil {
		return released, err
	}
	if extra > 0 {
		l.logger.Warn().
			Str("reservation_id", reservationID).
			Int64("stations", extra).
			Msg("Released stations missing from reservation bindings")
	}
	return released + int(extra), nil
}

// SetMaintenance toggles Available <-> UnderMaintenance. Active stations are StationBusy.
// Repeating the current state is a no-op.
func (l *Ledger) SetMaintenance(ctx context.Context, venueID, stationID string, on bool) (*models.Station, error) {
	from, to := models.StationAvailable, models.StationUnderMaintenance
	if !on {
		from, to = to, from
	}

	ok, err := l.db.SetStationStatus(ctx, venueID, stationID, from, to)
	if err != nil {
		return nil, err
	}

	st, err := l.db.GetStation(ctx, venueID, stationID)
	if err != nil {
		return nil, err
	}
	if ok || (st.Status == to && st.ActiveReservationID == "") {
		return st, nil
	}
	return nil, &models.StationError{StationID: stationID, Err: models.ErrStationBusy}
}

// AvailableForAssignment groups Available stations by room and type.
// Empty filters match everything.
func (l *Ledger) AvailableForAssignment(ctx context.Context, venueID, roomName, stationType string) (map[string]map[string][]models.Station, error) {
	venue, err := l.db.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if roomName != "" {
		if _, ok := venue.Room(roomName); !ok {
			return nil, models.NewNotFound("room", roomName)
		}
	}

	stations, err := l.db.ListAvailableStations(ctx, venueID, roomName, stationType)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string][]models.Station)
	for _, s := range stations {
		byType, ok := out[s.RoomName]
		if !ok {
			byType = make(map[string][]models.Station)
			out[s.RoomName] = byType
		}
		byType[s.Type] = append(byType[s.Type], s)
	}
	return out, nil
}

// ReleaseOrphans frees stations marked Active without an Active reservation behind them.
func (l *Ledger) ReleaseOrphans(ctx context.Context) (int, error) {
	released := 0
	err := l.db.WithTx(ctx, func(tx *database.Tx) error {
		orphans, err := tx.ListOrphanedStations(ctx)
		if err != nil {
			return err
		}
		for _, s := range orphans {
			if err := tx.ClearStation(ctx, s.VenueID, s.ID); err != nil {
				return err
			}
			l.logger.Warn().
				Str("venue_id", s.VenueID).
				Str("station_id", s.ID).
				Str("reservation_id", s.ActiveReservationID).
				Msg("Released orphaned station")
			released++
		}
		return nil
	})
	return released, err
}
