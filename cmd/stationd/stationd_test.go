package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stationbook/internal/availability"
	"stationbook/internal/booking"
	"stationbook/internal/clock"
	"stationbook/internal/database"
	"stationbook/internal/events"
	"stationbook/internal/ledger"
	"stationbook/internal/models"
	"stationbook/shared/access"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "stationd dev"))
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "sessions.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncVenues(ctx, []models.Venue{{
		ID: "arena", Name: "Arena", OwnerID: "owner-1", Timezone: "UTC", IsActive: true, StaffChatID: 42,
		Rooms: []models.Room{{Name: "A", Groups: []models.StationGroup{{
			Type: "PC", PricePerHour: decimal.NewFromInt(100), StationIDs: []string{"PC01", "PC02"},
		}}}},
	}}))

	start := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	l := ledger.New(db, &logger)
	m := booking.NewManager(db, l, availability.NewService(db, nil, &logger), access.NewService(logger),
		events.NewEventBus(&logger), clk, booking.Options{Location: time.UTC}, &logger)

	owner := access.Principal{ID: "owner-1", Role: access.RoleVenueOwner}
	r, err := m.Create(ctx, owner, booking.CreateRequest{
		VenueID:     "arena",
		Items:       []booking.ItemRequest{{RoomName: "A", StationType: "PC", Quantity: 1}},
		BookingDate: "2026-10-20",
		StartTime:   "10:00 AM",
		Duration:    1,
		WalkInName:  "Sam",
	})
	require.NoError(t, err)
	_, err = m.Assign(ctx, owner, r.ID, booking.AssignRequest{Assignments: []booking.Assignment{
		{RoomName: "A", StationIDs: []string{"PC02"}},
	}})
	require.NoError(t, err)

	store := &sessionStore{db: db}
	sessions, err := store.EndingSessions(ctx, start.Add(50*time.Minute), start.Add(70*time.Minute))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, r.ID, s.ReservationID)
	assert.Equal(t, "Arena", s.VenueName)
	assert.Equal(t, int64(42), s.ChatID)
	assert.Equal(t, "Sam", s.Customer)
	assert.Equal(t, []string{"PC02"}, s.Stations)
	assert.True(t, s.EndsAt.Equal(start.Add(time.Hour)))

	require.NoError(t, store.MarkNotified(ctx, r.ID))
	sessions, err = store.EndingSessions(ctx, start.Add(50*time.Minute), start.Add(70*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
