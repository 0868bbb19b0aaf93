package availability

import (
	"context"
	"errors"
	"time"

	"stationbook/internal/cache"
	"stationbook/internal/metrics"
	"stationbook/internal/models"
	"stationbook/internal/timewindow"

	"github.com/rs/zerolog"
)

// Store is the read side the service needs.
type Store interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	ListClaims(ctx context.Context, venueID, date, roomName, stationType, excludeID string) ([]models.Reservation, error)
	ListVenueClaims(ctx context.Context, venueID, date string) ([]models.Reservation, error)
}

// Service answers availability questions against the reservation store.
type Service struct {
	store  Store
	cache  *cache.SlotCache
	logger *zerolog.Logger
}

func NewService(store Store, slotCache *cache.SlotCache, logger *zerolog.Logger) *Service {
	return &Service{store: store, cache: slotCache, logger: logger}
}

// Query describes a prospective claim.
type Query struct {
	VenueID     string
	RoomName    string
	StationType string
	Date        string
	StartTime   string
	Duration    float64
	Quantity    int
	// ExcludeID leaves one reservation out of the claims, used when re-checking an existing booking.
	ExcludeID string
}

// Result is the outcome of CheckAvailability.
type Result struct {
	Available         bool              `json:"available"`
	FreeCount         int               `json:"free_count"`
	Requested         int               `json:"requested"`
	Window            timewindow.Window `json:"window"`
	FirstConflictHour *int              `json:"first_conflict_hour,omitempty"`
	FirstConflictTime string            `json:"first_conflict_time,omitempty"`
}

// SlotGrid maps room -> station type -> hour label -> free count.
type SlotGrid map[string]map[string]map[string]int

// FreeCount returns the free stations of (room, type) over [start, end) on date.
func (s *Service) FreeCount(ctx context.Context, venueID, roomName, stationType, date string, w timewindow.Window) (int, error) {
	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return 0, err
	}
	group, err := venue.Group(roomName, stationType)
	if err != nil {
		return 0, err
	}
	claims, err := s.store.ListClaims(ctx, venueID, date, roomName, stationType, "")
	if err != nil {
		return 0, err
	}
	return FreeCount(group.Count, claims, roomName, stationType, w), nil
}

// CheckAvailability reports whether q fits and where it first conflicts.
func (s *Service) CheckAvailability(ctx context.Context, q Query) (*Result, error) {
	if q.Quantity <= 0 {
		return nil, models.InputError("quantity must be positive")
	}
	if _, err := timewindow.ParseDate(q.Date, time.UTC); err != nil {
		return nil, err
	}
	startHour, err := timewindow.Hour(q.StartTime)
	if err != nil {
		return nil, err
	}
	w, err := timewindow.ForReservation(startHour, q.Duration)
	if err != nil {
		return nil, err
	}

	venue, err := s.store.GetVenue(ctx, q.VenueID)
	if err != nil {
		return nil, err
	}
	group, err := venue.Group(q.RoomName, q.StationType)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaims(ctx, q.VenueID, q.Date, q.RoomName, q.StationType, q.ExcludeID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Available: true,
		FreeCount: FreeCount(group.Count, claims, q.RoomName, q.StationType, w),
		Requested: q.Quantity,
		Window:    w,
	}

	var capErr *models.CapacityError
	if err := Check(group.Count, claims, q.RoomName, q.StationType, w, q.Quantity); errors.As(err, &capErr) {
		hour := capErr.Hour
		res.Available = false
		res.FirstConflictHour = &hour
		res.FirstConflictTime = timewindow.HourLabel(hour)
	}
	return res, nil
}

// SlotAvailability returns the free count of every (room, type) for each opening hour of date.
func (s *Service) SlotAvailability(ctx context.Context, venueID, date string) (SlotGrid, error) {
	if _, err := timewindow.ParseDate(date, time.UTC); err != nil {
		return nil, err
	}

	var grid SlotGrid
	if s.cache.Get(ctx, venueID, date, &grid) {
		metrics.IncSlotCache(true)
		return grid, nil
	}
	metrics.IncSlotCache(false)

	venue, err := s.store.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	opening, err := timewindow.OpeningWindow(venue.OpeningTime, venue.ClosingTime)
	if err != nil {
		s.logger.Warn().Err(err).Str("venue_id", venueID).Msg("Bad opening hours, using full day")
		opening = timewindow.Window{Start: 0, End: 24}
	}
	claims, err := s.store.ListVenueClaims(ctx, venueID, date)
	if err != nil {
		return nil, err
	}

	grid = make(SlotGrid, len(venue.Rooms))
	for _, room := range venue.Rooms {
		byType := make(map[string]map[string]int, len(room.Groups))
		for _, g := range room.Groups {
			hours := make(map[string]int, opening.End-opening.Start)
			for _, h := range opening.Hours() {
				free := g.Count - ClaimedAt(claims, room.Name, g.Type, h)
				if free < 0 {
					free = 0
				}
				hours[timewindow.HourLabel(h)] = free
			}
			byType[g.Type] = hours
		}
		grid[room.Name] = byType
	}

	s.cache.Set(ctx, venueID, date, grid)
	return grid, nil
}

// Invalidate drops cached grids after a write that changes claims.
func (s *Service) Invalidate(ctx context.Context, venueID, date string) {
	s.cache.Invalidate(ctx, venueID, date)
}
