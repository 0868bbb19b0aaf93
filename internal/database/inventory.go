package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stationbook/internal/models"

	"github.com/shopspring/decimal"
)

// SyncVenues upserts venues, station groups and stations from the inventory file.
// Venues missing from the file are deactivated. Stations missing from the file are retired;
// live status and back-references of existing stations are never reset.
func (db *DB) SyncVenues(ctx context.Context, venues []models.Venue) error {
	now := time.Now().UTC()

	err := db.WithTx(ctx, func(tx *Tx) error {
		seen := make(map[string]bool, len(venues))
		for i := range venues {
			v := &venues[i]
			seen[v.ID] = true
			if err := tx.upsertVenue(ctx, v, now); err != nil {
				return err
			}
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM venues WHERE is_active = 1`)
		if err != nil {
			return fmt.Errorf("list venues: %w", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			if !seen[id] {
				stale = append(stale, id)
			}
		}
		rows.Close()

		for _, id := range stale {
			if _, err := tx.ExecContext(ctx,
				`UPDATE venues SET is_active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
				return fmt.Errorf("deactivate venue %s: %w", id, err)
			}
			if db.logger != nil {
				db.logger.Info().Str("venue_id", id).Msg("Venue missing from inventory, deactivated")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.venueCache = make(map[string]models.Venue)
	db.mu.Unlock()
	return nil
}

func (t *Tx) upsertVenue(ctx context.Context, v *models.Venue, now time.Time) error {
	_, err := t.ExecContext(ctx, `
		INSERT INTO venues (id, name, owner_id, address, opening_time, closing_time, timezone,
		                    staff_chat_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			address = excluded.address,
			opening_time = excluded.opening_time,
			closing_time = excluded.closing_time,
			timezone = excluded.timezone,
			staff_chat_id = excluded.staff_chat_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		v.ID, v.Name, v.OwnerID, v.Address, v.OpeningTime, v.ClosingTime, v.Timezone,
		v.StaffChatID, v.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert venue %s: %w", v.ID, err)
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM station_groups WHERE venue_id = ?`, v.ID); err != nil {
		return fmt.Errorf("clear groups of %s: %w", v.ID, err)
	}
	if _, err := t.ExecContext(ctx,
		`UPDATE stations SET is_retired = 1 WHERE venue_id = ?`, v.ID); err != nil {
		return fmt.Errorf("retire stations of %s: %w", v.ID, err)
	}

	position := 0
	for ri, room := range v.Rooms {
		for gi, g := range room.Groups {
			if _, err := t.ExecContext(ctx, `
				INSERT INTO station_groups (venue_id, room_name, station_type, price_per_hour, room_position, group_position)
				VALUES (?, ?, ?, ?, ?, ?)`,
				v.ID, room.Name, g.Type, g.PricePerHour, ri, gi,
			); err != nil {
				return fmt.Errorf("insert group %s/%s/%s: %w", v.ID, room.Name, g.Type, err)
			}

			for _, stationID := range g.StationIDs {
				position++
				if _, err := t.ExecContext(ctx, `
					INSERT INTO stations (venue_id, id, room_name, station_type, price_per_hour, position,
					                      status, is_retired, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
					ON CONFLICT(venue_id, id) DO UPDATE SET
						room_name = excluded.room_name,
						station_type = excluded.station_type,
						price_per_hour = excluded.price_per_hour,
						position = excluded.position,
						is_retired = 0,
						updated_at = excluded.updated_at`,
					v.ID, stationID, room.Name, g.Type, g.PricePerHour, position,
					models.StationAvailable, now,
				); err != nil {
					return fmt.Errorf("upsert station %s/%s: %w", v.ID, stationID, err)
				}
			}
		}
	}
	return nil
}

// GetVenue returns the inventory snapshot of an active or inactive venue.
func (db *DB) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	db.mu.RLock()
	cached, ok := db.venueCache[id]
	db.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	venue, err := loadVenue(ctx, db.DB, id)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.venueCache[id] = *venue
	db.mu.Unlock()
	return venue, nil
}

// GetVenue reads the venue on the transaction connection, bypassing the cache.
func (t *Tx) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	return loadVenue(ctx, t.Tx, id)
}

// ListVenues returns all active venues ordered by id.
func (db *DB) ListVenues(ctx context.Context) ([]models.Venue, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM venues WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	venues := make([]models.Venue, 0, len(ids))
	for _, id := range ids {
		v, err := db.GetVenue(ctx, id)
		if err != nil {
			return nil, err
		}
		venues = append(venues, *v)
	}
	return venues, nil
}

func loadVenue(ctx context.Context, q querier, id string) (*models.Venue, error) {
	var v models.Venue
	var address, opening, closing, tz sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, name, owner_id, address, opening_time, closing_time, timezone, staff_chat_id, is_active
		FROM venues WHERE id = ?`, id,
	).Scan(&v.ID, &v.Name, &v.OwnerID, &address, &opening, &closing, &tz, &v.StaffChatID, &v.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFound("venue", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get venue %s: %w", id, err)
	}
	v.Address, v.OpeningTime, v.ClosingTime, v.Timezone = address.String, opening.String, closing.String, tz.String

	rows, err := q.QueryContext(ctx, `
		SELECT room_name, station_type, price_per_hour
		FROM station_groups WHERE venue_id = ?
		ORDER BY room_position, group_position`, id)
	if err != nil {
		return nil, fmt.Errorf("list groups of %s: %w", id, err)
	}
	for rows.Next() {
		var roomName, stationType string
		var price decimal.Decimal
		if err := rows.Scan(&roomName, &stationType, &price); err != nil {
			rows.Close()
			return nil, err
		}
		if len(v.Rooms) == 0 || v.Rooms[len(v.Rooms)-1].Name != roomName {
			v.Rooms = append(v.Rooms, models.Room{Name: roomName})
		}
		room := &v.Rooms[len(v.Rooms)-1]
		room.Groups = append(room.Groups, models.StationGroup{Type: stationType, PricePerHour: price})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stations, err := listStations(ctx, q, id)
	if err != nil {
		return nil, err
	}
	for _, s := range stations {
		g, err := v.Group(s.RoomName, s.Type)
		if err != nil {
			continue
		}
		g.StationIDs = append(g.StationIDs, s.ID)
		g.Count++
	}

	return &v, nil
}
