// Package booking implements the reservation lifecycle.
package booking

import "stationbook/internal/models"

// transitions lists the forward moves of the lifecycle.
var transitions = map[models.Status][]models.Status{
	models.StatusPendingPayment: {models.StatusBooked},
	models.StatusBooked:         {models.StatusActive, models.StatusCancelled},
	models.StatusActive:         {models.StatusCompleted},
}

// repairs are only taken by the explicit fix paths.
var repairs = map[models.Status][]models.Status{
	models.StatusActive:    {models.StatusBooked},
	models.StatusCompleted: {models.StatusActive},
}

func allowed(table map[models.Status][]models.Status, from, to models.Status) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransition reports whether from -> to is a normal lifecycle move.
func CanTransition(from, to models.Status) bool {
	return allowed(transitions, from, to)
}

// CanRepair reports whether from -> to is a repair move.
func CanRepair(from, to models.Status) bool {
	return allowed(repairs, from, to)
}

// IsTerminal reports whether no normal move leaves status s.
func IsTerminal(s models.Status) bool {
	return len(transitions[s]) == 0
}

func requireTransition(r *models.Reservation, to models.Status, operation string) error {
	if !CanTransition(r.Status, to) {
		return &models.StateError{ReservationID: r.ID, Status: r.Status, Operation: operation}
	}
	return nil
}
