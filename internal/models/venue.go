package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StationStatus is the live state of a physical station.
type StationStatus string

const (
	StationAvailable        StationStatus = "available"
	StationActive           StationStatus = "active"
	StationUnderMaintenance StationStatus = "under_maintenance"
)

// Venue is the inventory snapshot of one cafe.
type Venue struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	Address     string `json:"address,omitempty"`
	Rooms       []Room `json:"rooms"`
	OpeningTime string `json:"opening_time"` // "10:00 AM"
	ClosingTime string `json:"closing_time"` // "11:00 PM"
	Timezone    string `json:"timezone"`
	StaffChatID int64  `json:"-"`
	IsActive    bool   `json:"is_active"`
}

// Room groups stations by type. Name is the canonical identifier inside a venue.
type Room struct {
	Name   string         `json:"name"`
	Groups []StationGroup `json:"groups"`
}

// StationGroup is a set of interchangeable stations of one type.
type StationGroup struct {
	Type         string          `json:"type"`
	Count        int             `json:"count"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	StationIDs   []string        `json:"station_ids,omitempty"`
}

// Station is one physical, individually occupiable unit.
type Station struct {
	VenueID             string          `json:"venue_id"`
	ID                  string          `json:"id"`
	RoomName            string          `json:"room_name"`
	Type                string          `json:"type"`
	PricePerHour        decimal.Decimal `json:"price_per_hour"`
	Status              StationStatus   `json:"status"`
	ActiveReservationID string          `json:"active_reservation_id,omitempty"`
	SessionStartedAt    *time.Time      `json:"session_started_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// IsFree reports whether the station can be assigned.
func (s *Station) IsFree() bool {
	return s.Status == StationAvailable && s.ActiveReservationID == ""
}

// Room returns the room with the given name.
func (v *Venue) Room(name string) (*Room, bool) {
	for i := range v.Rooms {
		if v.Rooms[i].Name == name {
			return &v.Rooms[i], true
		}
	}
	return nil, false
}

// Group returns the station group for (room, type).
func (v *Venue) Group(roomName, stationType string) (*StationGroup, error) {
	room, ok := v.Room(roomName)
	if !ok {
		return nil, NewNotFound("room", roomName)
	}
	for i := range room.Groups {
		if room.Groups[i].Type == stationType {
			return &room.Groups[i], nil
		}
	}
	return nil, NewNotFound("station type", roomName+"/"+stationType)
}

// Location resolves the venue timezone, falling back to fallback.
func (v *Venue) Location(fallback *time.Location) *time.Location {
	if v.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}
