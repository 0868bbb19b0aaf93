package main

import (
	"context"
	"time"

	"stationbook/internal/database"
	"stationbook/shared/reminders"
)

// sessionStore feeds Active reservations close to their end into the notice scheduler.
type sessionStore struct {
	db *database.DB
}

func (s *sessionStore) EndingSessions(ctx context.Context, from, to time.Time) ([]reminders.Session, error) {
	list, err := s.db.ListEndingBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	out := make([]reminders.Session, 0, len(list))
	for i := range list {
		r := &list[i]
		end, ok := r.EffectiveEnd()
		if !ok {
			continue
		}
		venue, err := s.db.GetVenue(ctx, r.VenueID)
		if err != nil {
			return nil, err
		}
		customer := r.WalkInName
		if customer == "" {
			customer = r.CustomerID
		}
		out = append(out, reminders.Session{
			ReservationID: r.ID,
			VenueID:       r.VenueID,
			VenueName:     venue.Name,
			ChatID:        venue.StaffChatID,
			Customer:      customer,
			Stations:      r.StationIDs(),
			EndsAt:        end,
		})
	}
	return out, nil
}

func (s *sessionStore) MarkNotified(ctx context.Context, reservationID string) error {
	return s.db.MarkReminderSent(ctx, reservationID)
}
