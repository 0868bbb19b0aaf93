package availability

import (
	"context"
	"io"
	"testing"
	"time"

	"stationbook/internal/cache"
	"stationbook/internal/models"
	"stationbook/internal/timewindow"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Venue), args.Error(1)
}

func (m *mockStore) ListClaims(ctx context.Context, venueID, date, roomName, stationType, excludeID string) ([]models.Reservation, error) {
	args := m.Called(ctx, venueID, date, roomName, stationType, excludeID)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *mockStore) ListVenueClaims(ctx context.Context, venueID, date string) ([]models.Reservation, error) {
	args := m.Called(ctx, venueID, date)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func roomA() *models.Venue {
	return &models.Venue{
		ID:          "arena",
		OpeningTime: "12:00 PM",
		ClosingTime: "06:00 PM",
		IsActive:    true,
		Rooms: []models.Room{{Name: "A", Groups: []models.StationGroup{{
			Type: "PC", Count: 5, PricePerHour: decimal.NewFromInt(100),
		}}}},
	}
}

func claim(start int, duration float64, qty int) models.Reservation {
	return models.Reservation{
		StartHour: start,
		Duration:  duration,
		Status:    models.StatusBooked,
		Items:     []models.LineItem{{RoomName: "A", StationType: "PC", Quantity: qty}},
	}
}

func TestCalculator(t *testing.T) {
	w := timewindow.Window{Start: 14, End: 16}

	t.Run("NoClaims", func(t *testing.T) {
		assert.Equal(t, 5, FreeCount(5, nil, "A", "PC", w))
		assert.NoError(t, Check(5, nil, "A", "PC", w, 5))
	})

	t.Run("PeakHourDecides", func(t *testing.T) {
		claims := []models.Reservation{claim(13, 2, 2), claim(15, 1, 1)}
		// 14: 2 claimed, 15: 1 claimed.
		assert.Equal(t, 3, FreeCount(5, claims, "A", "PC", w))
		assert.Equal(t, 2, ClaimedAt(claims, "A", "PC", 14))
		assert.Equal(t, 0, ClaimedAt(claims, "A", "PC", 16))
	})

	t.Run("HalfHourTailCoversNextTick", func(t *testing.T) {
		claims := []models.Reservation{claim(12, 2.5, 4)}
		assert.Equal(t, 4, ClaimedAt(claims, "A", "PC", 14))
		assert.Equal(t, 1, FreeCount(5, claims, "A", "PC", w))
	})

	t.Run("OtherTypeIgnored", func(t *testing.T) {
		c := claim(14, 2, 3)
		c.Items[0].StationType = "PS5"
		assert.Equal(t, 5, FreeCount(5, []models.Reservation{c}, "A", "PC", w))
	})

	t.Run("FirstConflictHour", func(t *testing.T) {
		claims := []models.Reservation{claim(15, 1, 4)}
		err := Check(5, claims, "A", "PC", w, 2)
		require.ErrorIs(t, err, models.ErrCapacityExceeded)
		var capErr *models.CapacityError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, 15, capErr.Hour)
		assert.Equal(t, 1, capErr.Free)
		assert.Equal(t, 2, capErr.Requested)
	})

	t.Run("OverclaimedFloorsAtZero", func(t *testing.T) {
		claims := []models.Reservation{claim(14, 2, 7)}
		assert.Equal(t, 0, FreeCount(5, claims, "A", "PC", w))
	})
}

func newService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := zerolog.New(io.Discard)
	return NewService(store, cache.NewSlotCache(client, time.Minute), &logger), mr
}

func TestCheckAvailabilityScenario(t *testing.T) {
	store := new(mockStore)
	svc, _ := newService(t, store)
	ctx := context.Background()

	store.On("GetVenue", ctx, "arena").Return(roomA(), nil)
	store.On("ListClaims", ctx, "arena", "2026-10-20", "A", "PC", "").
		Return([]models.Reservation{claim(14, 2, 3)}, nil)

	q := Query{VenueID: "arena", RoomName: "A", StationType: "PC", Date: "2026-10-20",
		StartTime: "02:00 PM", Duration: 2, Quantity: 3}
	res, err := svc.CheckAvailability(ctx, q)
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, 2, res.FreeCount)
	require.NotNil(t, res.FirstConflictHour)
	assert.Equal(t, 14, *res.FirstConflictHour)
	assert.Equal(t, "02:00 PM", res.FirstConflictTime)

	q.Quantity = 2
	res, err = svc.CheckAvailability(ctx, q)
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Nil(t, res.FirstConflictHour)
}

func TestCheckAvailabilityErrors(t *testing.T) {
	store := new(mockStore)
	svc, _ := newService(t, store)
	ctx := context.Background()
	store.On("GetVenue", ctx, "arena").Return(roomA(), nil)

	base := Query{VenueID: "arena", RoomName: "A", StationType: "PC", Date: "2026-10-20",
		StartTime: "02:00 PM", Duration: 2, Quantity: 1}

	q := base
	q.Duration = 1.3
	_, err := svc.CheckAvailability(ctx, q)
	assert.ErrorIs(t, err, models.ErrInvalidDuration)

	q = base
	q.RoomName = "Z"
	_, err = svc.CheckAvailability(ctx, q)
	assert.ErrorIs(t, err, models.ErrNotFound)

	q = base
	q.Date = "20-10-2026"
	_, err = svc.CheckAvailability(ctx, q)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	q = base
	q.Quantity = 0
	_, err = svc.CheckAvailability(ctx, q)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSlotAvailabilityCached(t *testing.T) {
	store := new(mockStore)
	svc, mr := newService(t, store)
	ctx := context.Background()

	store.On("GetVenue", ctx, "arena").Return(roomA(), nil).Once()
	store.On("ListVenueClaims", ctx, "arena", "2026-10-20").
		Return([]models.Reservation{claim(14, 2, 3)}, nil).Once()

	grid, err := svc.SlotAvailability(ctx, "arena", "2026-10-20")
	require.NoError(t, err)
	hours := grid["A"]["PC"]
	assert.Len(t, hours, 6)
	assert.Equal(t, 5, hours["12:00 PM"])
	assert.Equal(t, 2, hours["02:00 PM"])
	assert.Equal(t, 2, hours["03:00 PM"])
	assert.Equal(t, 5, hours["05:00 PM"])

	// Served from redis, store is not called again.
	again, err := svc.SlotAvailability(ctx, "arena", "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, grid, again)
	store.AssertExpectations(t)

	svc.Invalidate(ctx, "arena", "2026-10-20")
	assert.False(t, mr.Exists("slots:arena:2026-10-20"))
}
