package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the reservation lifecycle state.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusBooked         Status = "booked"
	StatusActive         Status = "active"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// ClaimingStatuses hold capacity in availability calculations.
var ClaimingStatuses = []Status{StatusBooked, StatusActive}

// PaymentMethod records how a reservation was paid.
type PaymentMethod string

const (
	PaymentWallet     PaymentMethod = "wallet"
	PaymentCard       PaymentMethod = "card"
	PaymentUPI        PaymentMethod = "upi"
	PaymentNetbanking PaymentMethod = "netbanking"
	PaymentCash       PaymentMethod = "cash"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentWallet, PaymentCard, PaymentUPI, PaymentNetbanking, PaymentCash:
		return true
	}
	return false
}

// PaymentStatus mirrors the payment collaborator's view.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// LineItem is one (room, type, quantity, price) component of a reservation.
type LineItem struct {
	RoomName     string          `json:"room_name"`
	StationType  string          `json:"station_type"`
	Quantity     int             `json:"quantity"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
}

// Binding ties a reservation to a concrete station while Active.
type Binding struct {
	StationID   string `json:"station_id"`
	RoomName    string `json:"room_name"`
	StationType string `json:"station_type"`
}

// Reservation is a booking of stations for a date and window.
type Reservation struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id,omitempty"`
	WalkInName  string     `json:"walk_in_name,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	VenueID     string     `json:"venue_id"`
	OwnerID     string     `json:"owner_id"`
	Items       []LineItem `json:"items"`
	BookingDate string     `json:"booking_date"` // YYYY-MM-DD
	StartTime   string     `json:"start_time"`   // display label, "02:00 PM"
	StartHour   int        `json:"start_hour"`
	Duration    float64    `json:"duration"` // hours, multiple of 0.5

	TotalPrice decimal.Decimal `json:"total_price"`
	Status     Status          `json:"status"`
	Bindings   []Binding       `json:"bindings,omitempty"`

	SessionStartTime  *time.Time `json:"session_start_time,omitempty"`
	CalculatedEndTime *time.Time `json:"calculated_end_time,omitempty"`
	SessionEndTime    *time.Time `json:"session_end_time,omitempty"`
	ExtendedHours     float64    `json:"extended_hours"`

	VerificationCode     string     `json:"verification_code,omitempty"`
	PermanentlyCancelled bool       `json:"permanently_cancelled"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`

	PaymentMethod    PaymentMethod `json:"payment_method,omitempty"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	IsPaid           bool          `json:"is_paid"`
	PaymentReference string        `json:"payment_reference,omitempty"`

	FriendCount int       `json:"friend_count"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsWalkIn reports whether the reservation was created at the counter.
func (r *Reservation) IsWalkIn() bool {
	return r.CustomerID == ""
}

// TotalQuantity is the number of stations the reservation needs.
func (r *Reservation) TotalQuantity() int {
	total := 0
	for _, it := range r.Items {
		total += it.Quantity
	}
	return total
}

// Claim returns the quantity claimed for (room, type).
func (r *Reservation) Claim(roomName, stationType string) int {
	qty := 0
	for _, it := range r.Items {
		if it.RoomName == roomName && it.StationType == stationType {
			qty += it.Quantity
		}
	}
	return qty
}

// CoversHour reports whether [StartHour, StartHour+Duration) contains hour h.
func (r *Reservation) CoversHour(h int) bool {
	return float64(h) >= float64(r.StartHour) && float64(h) < float64(r.StartHour)+r.Duration
}

// DurationValue converts the duration in hours to a time.Duration.
func (r *Reservation) DurationValue() time.Duration {
	return time.Duration(r.Duration * float64(time.Hour))
}

// EffectiveEnd is calculatedEndTime, else sessionStartTime + duration.
// ok is false when neither is known.
func (r *Reservation) EffectiveEnd() (end time.Time, ok bool) {
	if r.CalculatedEndTime != nil {
		return *r.CalculatedEndTime, true
	}
	if r.SessionStartTime != nil {
		return r.SessionStartTime.Add(r.DurationValue()), true
	}
	return time.Time{}, false
}

// RemainingMinutes is the time left in an active session, never negative.
func (r *Reservation) RemainingMinutes(now time.Time) int {
	end, ok := r.EffectiveEnd()
	if !ok || !now.Before(end) {
		return 0
	}
	return int(end.Sub(now).Minutes())
}

// StationIDs lists the bound station ids.
func (r *Reservation) StationIDs() []string {
	ids := make([]string, 0, len(r.Bindings))
	for _, b := range r.Bindings {
		ids = append(ids, b.StationID)
	}
	return ids
}

// Redacted returns a copy without the verification code.
func (r *Reservation) Redacted() *Reservation {
	cp := *r
	cp.VerificationCode = ""
	return &cp
}
