package reconcile

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
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

var owner = access.Principal{ID: "owner-1", Role: access.RoleVenueOwner}

type fixture struct {
	db    *database.DB
	clock *clock.Manual
	m     *booking.Manager
	rec   *Reconciler
	slots *recordingInvalidator
}

// recordingInvalidator remembers every venue date the reconciler invalidated.
type recordingInvalidator struct {
	mu    sync.Mutex
	dates []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, venueID, date string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dates = append(r.dates, venueID+"/"+date)
}

func (r *recordingInvalidator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dates...)
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "reconcile.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncVenues(context.Background(), []models.Venue{{
		ID: "arena", Name: "Arena", OwnerID: "owner-1", Timezone: "UTC", IsActive: true,
		Rooms: []models.Room{{Name: "A", Groups: []models.StationGroup{{
			Type: "PC", PricePerHour: decimal.NewFromInt(100),
			StationIDs: []string{"PC01", "PC02", "PC03"},
		}}}},
	}}))

	clk := clock.NewManual(time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC))
	bus := events.NewEventBus(&logger)
	l := ledger.New(db, &logger)
	m := booking.NewManager(db, l, availability.NewService(db, nil, &logger), access.NewService(logger),
		bus, clk, booking.Options{Location: time.UTC}, &logger)
	slots := &recordingInvalidator{}
	return &fixture{db: db, clock: clk, m: m, rec: New(db, l, m, slots, bus, clk, &logger), slots: slots}
}

func (f *fixture) startSession(t *testing.T, duration float64, stations ...string) *models.Reservation {
	t.Helper()
	ctx := context.Background()
	qty := len(stations)
	if qty == 0 {
		qty = 1
	}
	r, err := f.m.Create(ctx, owner, booking.CreateRequest{
		VenueID:     "arena",
		Items:       []booking.ItemRequest{{RoomName: "A", StationType: "PC", Quantity: qty}},
		BookingDate: "2026-10-20",
		StartTime:   "10:00 AM",
		Duration:    duration,
		WalkInName:  "Sam",
	})
	require.NoError(t, err)
	if len(stations) == 0 {
		return r
	}
	r, err = f.m.Assign(ctx, owner, r.ID, booking.AssignRequest{
		Assignments: []booking.Assignment{{RoomName: "A", StationIDs: stations}},
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) station(t *testing.T, id string) *models.Station {
	t.Helper()
	st, err := f.db.GetStation(context.Background(), "arena", id)
	require.NoError(t, err)
	return st
}

func TestRunNowCompletesExpiredSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.startSession(t, 2, "PC01", "PC02")

	f.clock.Advance(time.Second)
	report := f.rec.RunNow(ctx)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Completed)
	assert.Equal(t, models.StationActive, f.station(t, "PC01").Status)

	f.clock.Advance(3 * time.Hour)
	assert.Empty(t, f.slots.calls())

	report = f.rec.RunNow(ctx)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.Released)
	assert.Zero(t, report.Failed)
	assert.Equal(t, []string{"arena/2026-10-20"}, f.slots.calls())

	got, err := f.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.SessionEndTime)
	assert.True(t, f.station(t, "PC01").IsFree())
	assert.True(t, f.station(t, "PC02").IsFree())

	report = f.rec.RunNow(ctx)
	assert.Zero(t, report.Checked)
	assert.Zero(t, report.Completed)
}

func TestRunNowReleasesOrphansAndSweeps(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.startSession(t, 2, "PC03")
	r, err := f.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	r.Status = models.StatusCompleted
	ok, err := f.db.UpdateReservation(ctx, r, models.StatusActive)
	require.NoError(t, err)
	require.True(t, ok)

	booked := f.startSession(t, 1)
	_, _, err = f.m.Cancel(ctx, owner, booked.ID, "")
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)

	report := f.rec.RunNow(ctx)
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, 1, report.Swept)
	assert.True(t, f.station(t, "PC03").IsFree())
}

func TestStaleActivation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.startSession(t, 1)
	r, err := f.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	r.Status = models.StatusActive
	ok, err := f.db.UpdateReservation(ctx, r, models.StatusBooked)
	require.NoError(t, err)
	require.True(t, ok)

	report := f.rec.RunNow(ctx)
	assert.Equal(t, 1, report.Skipped)

	fix, err := f.rec.RevertStaleActivations(ctx, "other-venue")
	require.NoError(t, err)
	assert.Zero(t, fix.Reverted)

	assert.Empty(t, f.slots.calls())

	fix, err = f.rec.RevertStaleActivations(ctx, "arena")
	require.NoError(t, err)
	assert.Equal(t, 1, fix.Reverted)
	assert.Equal(t, []string{r.ID}, fix.IDs)
	assert.Equal(t, []string{"arena/2026-10-20"}, f.slots.calls())

	got, err := f.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, got.Status)

	fix, err = f.rec.RevertStaleActivations(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, fix.Reverted)
}

func TestPrematureCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := f.startSession(t, 2, "PC01")
	f.clock.Advance(30 * time.Minute)
	_, err := f.m.Complete(ctx, owner, r.ID)
	require.NoError(t, err)
	assert.True(t, f.station(t, "PC01").IsFree())

	fix, err := f.rec.RevertPrematureCompletions(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, fix.Reverted)
	assert.Equal(t, []string{"arena/2026-10-20"}, f.slots.calls())

	got, err := f.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Nil(t, got.SessionEndTime)
	pc := f.station(t, "PC01")
	assert.Equal(t, models.StationActive, pc.Status)
	assert.Equal(t, r.ID, pc.ActiveReservationID)

	fix, err = f.rec.RevertPrematureCompletions(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, fix.Reverted)
}

func TestPrematureCompletionStationTaken(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.startSession(t, 2, "PC01")
	_, err := f.m.Complete(ctx, owner, first.ID)
	require.NoError(t, err)
	f.startSession(t, 1, "PC01")

	fix, err := f.rec.RevertPrematureCompletions(ctx, "arena")
	require.NoError(t, err)
	assert.Zero(t, fix.Reverted)
	assert.Equal(t, 1, fix.Skipped)

	got, err := f.db.GetReservation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, f.slots.calls(), "a skipped repair changes nothing")
}

type countingRunner struct {
	runs int32
}

func (c *countingRunner) RunNow(ctx context.Context) Report {
	n := atomic.AddInt32(&c.runs, 1)
	return Report{StartedAt: time.Now(), Completed: int(n)}
}

func TestScheduler(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runner.runs) >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, s.IsRunning())

	status := s.LastRun()
	require.NotNil(t, status.LastReport)
	assert.False(t, status.LastRunAt.IsZero())

	s.Stop()
	<-done
	assert.False(t, s.IsRunning())

	report := s.Trigger(context.Background())
	assert.Greater(t, report.Completed, 2)
}

func TestSchedulerStopsWithContext(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runner.runs) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.False(t, s.IsRunning())
}
