package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stationbook/internal/availability"
	"stationbook/internal/clock"
	"stationbook/internal/database"
	"stationbook/internal/events"
	"stationbook/internal/ledger"
	"stationbook/internal/metrics"
	"stationbook/internal/models"
	"stationbook/internal/timewindow"
	"stationbook/shared/access"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Options tune lifecycle policy.
type Options struct {
	CancelGrace          time.Duration
	PermanentCancelAfter time.Duration
	Location             *time.Location
}

// Manager runs every reservation state change.
type Manager struct {
	db           *database.DB
	ledger       *ledger.Ledger
	availability *availability.Service
	access       *access.Service
	bus          *events.EventBus
	clock        clock.Clock
	locks        *keyedMutex
	opts         Options
	logger       zerolog.Logger
}

func NewManager(
	db *database.DB,
	l *ledger.Ledger,
	avail *availability.Service,
	acc *access.Service,
	bus *events.EventBus,
	clk clock.Clock,
	opts Options,
	logger *zerolog.Logger,
) *Manager {
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 15 * time.Minute
	}
	if opts.PermanentCancelAfter <= 0 {
		opts.PermanentCancelAfter = 10 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		db:           db,
		ledger:       l,
		availability: avail,
		access:       acc,
		bus:          bus,
		clock:        clk,
		locks:        newKeyedMutex(),
		opts:         opts,
		logger:       logger.With().Str("component", "booking").Logger(),
	}
}

func (m *Manager) observe(operation string, err error) {
	if err != nil {
		metrics.IncOperationError(operation, models.Kind(err))
	}
}

func (m *Manager) location(v *models.Venue) *time.Location {
	return v.Location(m.opts.Location)
}

// ItemRequest is one requested (room, type, quantity).
type ItemRequest struct {
	RoomName    string `json:"room_name"`
	StationType string `json:"station_type"`
	Quantity    int    `json:"quantity"`
}

// CreateRequest is a booking request after wire-shape translation.
type CreateRequest struct {
	VenueID       string               `json:"venue_id"`
	Items         []ItemRequest        `json:"items"`
	BookingDate   string               `json:"booking_date"`
	StartTime     string               `json:"start_time"`
	Duration      float64              `json:"duration"`
	WalkInName    string               `json:"walk_in_name,omitempty"`
	Phone         string               `json:"phone,omitempty"`
	PaymentMethod models.PaymentMethod `json:"payment_method,omitempty"`
	FriendCount   int                  `json:"friend_count,omitempty"`
}

func (req *CreateRequest) validate() error {
	if req.VenueID == "" {
		return models.InputError("venue is required")
	}
	if len(req.Items) == 0 {
		return models.InputError("at least one item is required")
	}
	seen := make(map[string]bool, len(req.Items))
	for _, it := range req.Items {
		if it.RoomName == "" || it.StationType == "" {
			return models.InputError("room and station type are required")
		}
		if it.Quantity <= 0 {
			return models.InputError("quantity for %s/%s must be positive", it.RoomName, it.StationType)
		}
		key := it.RoomName + "\x00" + it.StationType
		if seen[key] {
			return models.InputError("duplicate item %s/%s", it.RoomName, it.StationType)
		}
		seen[key] = true
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return models.InputError("unknown payment method %q", req.PaymentMethod)
	}
	if req.FriendCount < 0 {
		return models.InputError("friend count cannot be negative")
	}
	return nil
}

// Create books a reservation. The venue owner books walk-ins (Booked, cash, no code);
// customers book remotely (PendingPayment with a verification code).
func (m *Manager) Create(ctx context.Context, p access.Principal, req CreateRequest) (res *models.Reservation, err error) {
	defer func() { m.observe("create", err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}
	startHour, err := timewindow.Hour(req.StartTime)
	if err != nil {
		return nil, err
	}
	w, err := timewindow.ForReservation(startHour, req.Duration)
	if err != nil {
		return nil, err
	}

	venue, err := m.db.GetVenue(ctx, req.VenueID)
	if err != nil {
		return nil, err
	}
	if !venue.IsActive {
		return nil, models.NewNotFound("venue", req.VenueID)
	}
	loc := m.location(venue)
	if _, err := timewindow.ParseDate(req.BookingDate, loc); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if req.BookingDate < timewindow.DateOf(now, loc) {
		return nil, models.InputError("booking date %s is in the past", req.BookingDate)
	}

	walkIn := p.Role != access.RoleCustomer
	if err := m.access.CanCreate(p, venue, walkIn); err != nil {
		return nil, err
	}

	r := &models.Reservation{
		ID:            uuid.NewString(),
		Phone:         strings.TrimSpace(req.Phone),
		VenueID:       venue.ID,
		OwnerID:       venue.OwnerID,
		BookingDate:   req.BookingDate,
		StartTime:     strings.ToUpper(strings.TrimSpace(req.StartTime)),
		StartHour:     startHour,
		Duration:      req.Duration,
		TotalPrice:    decimal.Zero,
		PaymentStatus: models.PaymentPending,
		FriendCount:   req.FriendCount,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if walkIn {
		name := strings.TrimSpace(req.WalkInName)
		if name == "" {
			return nil, models.InputError("walk-in name is required")
		}
		r.WalkInName = name
		r.Status = models.StatusBooked
		r.PaymentMethod = models.PaymentCash
	} else {
		code, err := newVerificationCode()
		if err != nil {
			return nil, err
		}
		r.CustomerID = p.ID
		r.Status = models.StatusPendingPayment
		r.VerificationCode = code
		r.PaymentMethod = req.PaymentMethod
	}

	hours := decimal.NewFromFloat(req.Duration)
	for _, it := range req.Items {
		group, err := venue.Group(it.RoomName, it.StationType)
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, models.LineItem{
			RoomName:     it.RoomName,
			StationType:  it.StationType,
			Quantity:     it.Quantity,
			PricePerHour: group.PricePerHour,
		})
		r.TotalPrice = r.TotalPrice.Add(group.PricePerHour.Mul(hours).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	unlock := m.locks.Lock(itemKeys(r.VenueID, r.BookingDate, r.Items)...)
	defer unlock()

	err = m.db.WithTx(ctx, func(tx *database.Tx) error {
		fresh, err := tx.GetVenue(ctx, r.VenueID)
		if err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, fresh, r, w, ""); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	if r.Status == models.StatusBooked {
		m.availability.Invalidate(ctx, r.VenueID, r.BookingDate)
	}
	metrics.IncReservationCreated(string(r.Status))
	m.bus.Emit(events.TypeReservationCreated, r.Redacted())
	m.logger.Info().
		Str("reservation_id", r.ID).
		Str("venue_id", r.VenueID).
		Str("status", string(r.Status)).
		Str("date", r.BookingDate).
		Str("window", w.String()).
		Msg("Reservation created")
	return r, nil
}

// checkCapacity re-reads claims on tx and fails on the first item that does not fit in w.
func checkCapacity(ctx context.Context, tx *database.Tx, venue *models.Venue, r *models.Reservation, w timewindow.Window, excludeID string) error {
	for _, it := range r.Items {
		group, err := venue.Group(it.RoomName, it.StationType)
		if err != nil {
			return err
		}
		claims, err := tx.ListClaims(ctx, r.VenueID, r.BookingDate, it.RoomName, it.StationType, excludeID)
		if err != nil {
			return err
		}
		if err := availability.Check(group.Count, claims, it.RoomName, it.StationType, w, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// PaymentConfirmation is the payment collaborator's callback.
type PaymentConfirmation struct {
	ReservationID    string               `json:"reservation_id"`
	PaymentMethod    models.PaymentMethod `json:"payment_method"`
	PaymentReference string               `json:"payment_reference"`
}

// ConfirmPayment moves PendingPayment -> Booked after re-validating capacity.
// Confirming an already Booked reservation returns it unchanged.
func (m *Manager) ConfirmPayment(ctx context.Context, pc PaymentConfirmation) (res *models.Reservation, err error) {
	defer func() { m.observe("confirm_payment", err) }()

	if pc.PaymentMethod == "" || !pc.PaymentMethod.Valid() {
		return nil, models.InputError("unknown payment method %q", pc.PaymentMethod)
	}

	r, err := m.db.GetReservation(ctx, pc.ReservationID)
	if err != nil {
		return nil, err
	}
	if r.Status == models.StatusBooked {
		return r, nil
	}
	if err := requireTransition(r, models.StatusBooked, "confirm payment for"); err != nil {
		return nil, err
	}
	w, err := timewindow.ForReservation(r.StartHour, r.Duration)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(itemKeys(r.VenueID, r.BookingDate, r.Items)...)
	defer unlock()

	noop := false
	err = m.db.WithTx(ctx, func(tx *database.Tx) error {
		fresh, err := tx.GetReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		if fresh.Status == models.StatusBooked {
			r, noop = fresh, true
			return nil
		}
		if err := requireTransition(fresh, models.StatusBooked, "confirm payment for"); err != nil {
			return err
		}
		venue, err := tx.GetVenue(ctx, fresh.VenueID)
		if err != nil {
			return err
		}
		if err := checkCapacity(ctx, tx, venue, fresh, w, fresh.ID); err != nil {
			return err
		}

		fresh.Status = models.StatusBooked
		fresh.IsPaid = true
		fresh.PaymentStatus = models.PaymentCompleted
		fresh.PaymentMethod = pc.PaymentMethod
		fresh.PaymentReference = pc.PaymentReference
		ok, err := tx.UpdateReservation(ctx, fresh, models.StatusPendingPayment)
		if err != nil {
			return err
		}
		if !ok {
			return &models.StateError{ReservationID: fresh.ID, Status: fresh.Status, Operation: "confirm payment for"}
		}
		r = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return r, nil
	}

	m.availability.Invalidate(ctx, r.VenueID, r.BookingDate)
	metrics.IncTransition(string(models.StatusPendingPayment), string(models.StatusBooked))
	m.bus.Emit(events.TypeReservationConfirmed, r.Redacted())
	m.logger.Info().Str("reservation_id", r.ID).Str("method", string(r.PaymentMethod)).Msg("Payment confirmed")
	return r, nil
}

// Get returns a reservation the principal may see. Staff never see the verification code.
func (m *Manager) Get(ctx context.Context, p access.Principal, id string) (*models.Reservation, error) {
	r, err := m.db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanView(p, r); err != nil {
		return nil, err
	}
	return m.present(p, r), nil
}

// ListMine returns the principal's own reservations.
func (m *Manager) ListMine(ctx context.Context, p access.Principal) ([]models.Reservation, error) {
	if p.Role != access.RoleCustomer {
		return nil, models.InputError("only customers have own reservations")
	}
	return m.db.ListByCustomer(ctx, p.ID)
}

// ListForVenue returns a venue's reservations for date, for staff.
func (m *Manager) ListForVenue(ctx context.Context, p access.Principal, venueID, date string) ([]models.Reservation, error) {
	venue, err := m.db.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if err := m.access.CanOperateVenue(p, venue, "list reservations"); err != nil {
		return nil, err
	}
	if date == "" {
		date = timewindow.DateOf(m.clock.Now(), m.location(venue))
	} else if _, err := timewindow.ParseDate(date, m.location(venue)); err != nil {
		return nil, err
	}

	list, err := m.db.ListByVenueDate(ctx, venueID, date)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = *list[i].Redacted()
	}
	return list, nil
}

func (m *Manager) present(p access.Principal, r *models.Reservation) *models.Reservation {
	if p.Role == access.RoleCustomer {
		return r
	}
	return r.Redacted()
}

// stateOrConflict turns a lost conditional update into the error the caller should see.
func (m *Manager) stateOrConflict(ctx context.Context, id, operation string) error {
	current, err := m.db.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	return &models.StateError{ReservationID: id, Status: current.Status, Operation: operation}
}

var errLostRace = errors.New("reservation changed concurrently")

func wrapLost(id string) error {
	return fmt.Errorf("%w: %s", errLostRace, id)
}
