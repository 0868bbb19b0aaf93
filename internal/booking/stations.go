package booking

import (
	"context"

	"stationbook/internal/models"
	"stationbook/shared/access"
)

// StationView is one row of the venue station board.
type StationView struct {
	models.Station
	RemainingMinutes int    `json:"remaining_minutes"`
	CustomerLabel    string `json:"customer_label,omitempty"`
}

// AvailableForAssignment lists Available stations per room and type for staff.
func (m *Manager) AvailableForAssignment(ctx context.Context, p access.Principal, venueID, roomName, stationType string) (map[string]map[string][]models.Station, error) {
	venue, err := m.db.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperateVenue(p, venue, "list available stations"); err != nil {
		return nil, err
	}
	return m.ledger.AvailableForAssignment(ctx, venueID, roomName, stationType)
}

// SetMaintenance toggles a station in or out of maintenance.
func (m *Manager) SetMaintenance(ctx context.Context, p access.Principal, venueID, stationID string, on bool) (st *models.Station, err error) {
	defer func() { m.observe("maintenance", err) }()

	venue, err := m.db.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperateVenue(p, venue, "toggle maintenance"); err != nil {
		return nil, err
	}
	st, err = m.ledger.SetMaintenance(ctx, venueID, stationID, on)
	if err != nil {
		return nil, err
	}
	m.logger.Info().
		Str("venue_id", venueID).
		Str("station_id", stationID).
		Bool("under_maintenance", on).
		Msg("Station maintenance toggled")
	return st, nil
}

// StationBoard lists every station of a venue with the remaining minutes of its session.
func (m *Manager) StationBoard(ctx context.Context, p access.Principal, venueID string) ([]StationView, error) {
	venue, err := m.db.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperateVenue(p, venue, "view station board"); err != nil {
		return nil, err
	}

	stations, err := m.db.ListStations(ctx, venueID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	reservations := make(map[string]*models.Reservation)
	board := make([]StationView, 0, len(stations))
	for _, s := range stations {
		view := StationView{Station: s}
		if s.ActiveReservationID != "" {
			r, ok := reservations[s.ActiveReservationID]
			if !ok {
				r, err = m.db.GetReservation(ctx, s.ActiveReservationID)
				if err != nil {
					m.logger.Warn().Err(err).Str("station_id", s.ID).Msg("Station points at unreadable reservation")
					r = nil
				}
				reservations[s.ActiveReservationID] = r
			}
			if r != nil {
				view.RemainingMinutes = r.RemainingMinutes(now)
				view.CustomerLabel = r.WalkInName
				if view.CustomerLabel == "" {
					view.CustomerLabel = r.CustomerID
				}
			}
		}
		board = append(board, view)
	}
	return board, nil
}
