// Package availability computes free station counts from inventory and claiming reservations.
package availability

import (
	"stationbook/internal/models"
	"stationbook/internal/timewindow"
)

// ClaimedAt sums the quantity of (room, type) claimed by reservations covering hour h.
// Callers pass only Booked and Active reservations.
func ClaimedAt(claims []models.Reservation, roomName, stationType string, h int) int {
	total := 0
	for i := range claims {
		if claims[i].CoversHour(h) {
			total += claims[i].Claim(roomName, stationType)
		}
	}
	return total
}

// FreeCount is total minus the peak claimed quantity over the window, floored at zero.
func FreeCount(total int, claims []models.Reservation, roomName, stationType string, w timewindow.Window) int {
	peak := 0
	for _, h := range w.Hours() {
		if c := ClaimedAt(claims, roomName, stationType, h); c > peak {
			peak = c
		}
	}
	if free := total - peak; free > 0 {
		return free
	}
	return 0
}

// Check fails with a CapacityError naming the first hour of w where quantity does not fit.
func Check(total int, claims []models.Reservation, roomName, stationType string, w timewindow.Window, quantity int) error {
	for _, h := range w.Hours() {
		free := total - ClaimedAt(claims, roomName, stationType, h)
		if free < 0 {
			free = 0
		}
		if quantity > free {
			return &models.CapacityError{
				Room:      roomName,
				Type:      stationType,
				Hour:      h,
				Free:      free,
				Requested: quantity,
			}
		}
	}
	return nil
}
