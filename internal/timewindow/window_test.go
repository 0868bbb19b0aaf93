package timewindow

import (
	"testing"
	"time"

	"stationbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHour(t *testing.T) {
	tests := []struct {
		label string
		want  int
	}{
		{"02:00 PM", 14},
		{"2:00 PM", 14},
		{"12:00 AM", 0},
		{"12:00 PM", 12},
		{"12:30 PM", 12},
		{"09:00 am", 9},
		{"11:00 PM", 23},
		{"14:00", 14},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := Hour(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Hour("noon")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestHourLabel(t *testing.T) {
	assert.Equal(t, "02:00 PM", HourLabel(14))
	assert.Equal(t, "12:00 AM", HourLabel(0))
	assert.Equal(t, "12:00 PM", HourLabel(12))
	assert.Equal(t, "12:00 AM", HourLabel(24))
}

func TestValidateDuration(t *testing.T) {
	for _, ok := range []float64{0.5, 1, 1.5, 2, 12} {
		assert.NoError(t, ValidateDuration(ok), "duration %v", ok)
	}
	for _, bad := range []float64{0, -1, 1.3, 0.25, 2.75} {
		assert.ErrorIs(t, ValidateDuration(bad), models.ErrInvalidDuration, "duration %v", bad)
	}
}

func TestForReservation(t *testing.T) {
	w, err := ForReservation(14, 2)
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 14, End: 16}, w)
	assert.Equal(t, []int{14, 15}, w.Hours())

	w, err = ForReservation(14, 1.5)
	require.NoError(t, err)
	assert.Equal(t, []int{14, 15}, w.Hours(), "a half hour still occupies the hour tick")

	_, err = ForReservation(23, 2)
	assert.ErrorIs(t, err, models.ErrInvalidDuration)

	_, err = ForReservation(10, 1.3)
	assert.ErrorIs(t, err, models.ErrInvalidDuration)
}

func TestExtension(t *testing.T) {
	assert.Equal(t, []int{16}, Extension(14, 2, 1).Hours())
	assert.Empty(t, Extension(14, 1.5, 0.5).Hours(), "filling a half-used tick adds no hour")
	assert.Equal(t, []int{16}, Extension(14, 1.5, 1).Hours())
	assert.Empty(t, Extension(22, 2, 1).Hours(), "hours after midnight are off the booking date")
	assert.Equal(t, []int{23}, Extension(21, 2, 2).Hours())
	assert.Empty(t, Extension(22, 3, 1).Hours())
}

func TestWindowOverlaps(t *testing.T) {
	a := Window{Start: 14, End: 16}
	assert.True(t, a.Overlaps(Window{Start: 15, End: 17}))
	assert.False(t, a.Overlaps(Window{Start: 16, End: 18}), "half-open windows touching at the edge do not overlap")
	assert.True(t, a.Contains(14))
	assert.False(t, a.Contains(16))
}

func TestStartInstant(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	got, err := StartInstant("2026-03-10", "02:30 PM", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 30, 0, 0, loc), got)

	_, err = StartInstant("10-03-2026", "02:30 PM", loc)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestOpeningWindow(t *testing.T) {
	w, err := OpeningWindow("10:00 AM", "12:00 AM")
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 10, End: 24}, w)

	w, err = OpeningWindow("", "")
	require.NoError(t, err)
	assert.Len(t, w.Hours(), 24)

	_, err = OpeningWindow("06:00 PM", "10:00 AM")
	assert.Error(t, err)
}
