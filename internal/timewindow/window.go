// Package timewindow converts display time labels and durations into hour windows.
package timewindow

import (
	"fmt"
	"math"
	"strings"
	"time"

	"stationbook/internal/models"
)

// DateLayout is the booking date format.
const DateLayout = "2006-01-02"

var labelLayouts = []string{"03:04 PM", "3:04 PM", "03:04PM", "3:04PM", "15:04"}

// ParseLabel parses "02:00 PM" style labels (24h "14:00" is also accepted).
func ParseLabel(label string) (hour, minute int, err error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	for _, layout := range labelLayouts {
		t, errParse := time.Parse(layout, s)
		if errParse == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, models.InputError("invalid time label %q, expected like \"02:00 PM\"", label)
}

// Hour returns the hour tick of a label: "02:00 PM" -> 14, "12:00 AM" -> 0.
func Hour(label string) (int, error) {
	h, _, err := ParseLabel(label)
	return h, err
}

// HourLabel formats an hour tick as a display label.
func HourLabel(h int) string {
	return time.Date(2000, 1, 1, h%24, 0, 0, 0, time.UTC).Format("03:04 PM")
}

// ValidateDuration requires a positive multiple of half an hour.
func ValidateDuration(hours float64) error {
	if hours <= 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return fmt.Errorf("%w: duration must be positive, got %v", models.ErrInvalidDuration, hours)
	}
	if doubled := hours * 2; doubled != math.Trunc(doubled) {
		return fmt.Errorf("%w: duration must be a multiple of 0.5 hours, got %v", models.ErrInvalidDuration, hours)
	}
	return nil
}

// Window is a half-open interval of hour ticks [Start, End).
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ForReservation returns the hours touched by a session of duration hours starting at startHour.
func ForReservation(startHour int, duration float64) (Window, error) {
	if err := ValidateDuration(duration); err != nil {
		return Window{}, err
	}
	if startHour < 0 || startHour > 23 {
		return Window{}, models.InputError("start hour %d out of range", startHour)
	}
	end := startHour + int(math.Ceil(duration))
	if end > 24 {
		return Window{}, fmt.Errorf("%w: session starting at %s for %vh crosses midnight",
			models.ErrInvalidDuration, HourLabel(startHour), duration)
	}
	return Window{Start: startHour, End: end}, nil
}

// Extension returns the hours of the booking date newly touched when a session
// of duration hours starting at startHour grows by added hours. Hours past
// midnight are not part of the booking date and are left out.
func Extension(startHour int, duration, added float64) Window {
	end := startHour + int(math.Ceil(duration+added))
	if end > 24 {
		end = 24
	}
	return Window{Start: startHour + int(math.Ceil(duration)), End: end}
}

// Hours lists every hour tick in the window.
func (w Window) Hours() []int {
	if w.End <= w.Start {
		return nil
	}
	hours := make([]int, 0, w.End-w.Start)
	for h := w.Start; h < w.End; h++ {
		hours = append(hours, h)
	}
	return hours
}

// Contains reports whether h is inside the window.
func (w Window) Contains(h int) bool {
	return h >= w.Start && h < w.End
}

// Overlaps reports whether the windows share at least one hour tick.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && o.Start < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", HourLabel(w.Start), HourLabel(w.End))
}

// ParseDate parses a YYYY-MM-DD booking date at midnight in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, models.InputError("invalid date %q, expected YYYY-MM-DD", date)
	}
	return t, nil
}

// StartInstant is the wall-clock instant of label on date in loc.
func StartInstant(date, label string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseLabel(label)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), nil
}

// DateOf formats t as a booking date in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// OpeningWindow converts opening/closing labels into an hour window.
// Empty labels mean the whole day. A closing label of "12:00 AM" means midnight.
func OpeningWindow(opening, closing string) (Window, error) {
	w := Window{Start: 0, End: 24}
	if opening != "" {
		h, err := Hour(opening)
		if err != nil {
			return Window{}, err
		}
		w.Start = h
	}
	if closing != "" {
		h, err := Hour(closing)
		if err != nil {
			return Window{}, err
		}
		if h == 0 {
			h = 24
		}
		w.End = h
	}
	if w.End <= w.Start {
		return Window{}, models.InputError("closing time %q must be after opening time %q", closing, opening)
	}
	return w, nil
}
