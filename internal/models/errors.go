package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidDuration          = errors.New("invalid duration")
	ErrCapacityExceeded         = errors.New("capacity exceeded")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrAssignmentMismatch       = errors.New("assignment mismatch")
	ErrStationUnavailable       = errors.New("station unavailable")
	ErrStationBusy              = errors.New("station busy")
	ErrInvalidCode              = errors.New("invalid verification code")
	ErrPriceResolutionFailed    = errors.New("price resolution failed")
	ErrUnauthorized             = errors.New("unauthorized")

	// ErrInvalidState is returned when the reservation status does not allow the operation.
	ErrInvalidState = errors.New("invalid reservation state")
	// ErrInvalidInput covers malformed requests (bad date, missing walk-in name, etc).
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// CapacityError reports the first hour where a request does not fit.
type CapacityError struct {
	Room      string
	Type      string
	Hour      int
	Free      int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("only %d %s free in room %s at %02d:00, requested %d",
		e.Free, e.Type, e.Room, e.Hour, e.Requested)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// StationError carries the station that caused an assignment or maintenance failure.
type StationError struct {
	StationID string
	Err       error
}

func (e *StationError) Error() string {
	return fmt.Sprintf("station %s: %v", e.StationID, e.Err)
}

func (e *StationError) Unwrap() error { return e.Err }

// StateError reports an operation attempted in the wrong status.
type StateError struct {
	ReservationID string
	Status        Status
	Operation     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s reservation %s with status %s", e.Operation, e.ReservationID, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

// InputError wraps a validation message as ErrInvalidInput.
func InputError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

var kinds = []struct {
	err   error
	label string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidDuration, "invalid_duration"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrCancellationWindowClosed, "cancellation_window_closed"},
	{ErrAssignmentMismatch, "assignment_mismatch"},
	{ErrStationUnavailable, "station_unavailable"},
	{ErrStationBusy, "station_busy"},
	{ErrInvalidCode, "invalid_code"},
	{ErrPriceResolutionFailed, "price_resolution_failed"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidState, "invalid_state"},
	{ErrInvalidInput, "invalid_input"},
}

// Kind maps an error to a stable label. Unknown errors are "internal".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "internal"
}
