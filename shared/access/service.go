// Package access decides which principal may read or change which reservation or venue.
package access

import (
	"context"
	"errors"
	"fmt"

	"stationbook/internal/models"

	"github.com/rs/zerolog"
)

// Role is the kind of caller, taken from the verified token.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleVenueOwner Role = "venueOwner"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleVenueOwner, RoleAdmin:
		return true
	}
	return false
}

// Principal is an authenticated caller.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// System is the principal used by background jobs and the CLI.
var System = Principal{ID: "system", Role: RoleAdmin}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Service implements the authorization rules.
type Service struct {
	logger zerolog.Logger
}

// NewService creates a new access control service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "access").Logger(),
	}
}

func (s *Service) deny(p Principal, action, resource string) error {
	s.logger.Warn().
		Str("principal", p.ID).
		Str("role", string(p.Role)).
		Str("action", action).
		Str("resource", resource).
		Msg("access denied")
	return &AccessDeniedError{Principal: p, Action: action, Resource: resource}
}

// CanOperateVenue allows the venue owner and admins.
func (s *Service) CanOperateVenue(p Principal, venue *models.Venue, action string) error {
	if p.Role == RoleAdmin || (p.Role == RoleVenueOwner && p.ID == venue.OwnerID) {
		return nil
	}
	return s.deny(p, action, "venue "+venue.ID)
}

// CanCreate allows customers to book remotely and the venue owner to book walk-ins.
func (s *Service) CanCreate(p Principal, venue *models.Venue, walkIn bool) error {
	if walkIn {
		return s.CanOperateVenue(p, venue, "create walk-in")
	}
	if p.Role == RoleCustomer && p.ID != "" {
		return nil
	}
	return s.deny(p, "create reservation", "venue "+venue.ID)
}

// CanView allows the booking customer, the venue owner and admins.
func (s *Service) CanView(p Principal, r *models.Reservation) error {
	if s.isParty(p, r) {
		return nil
	}
	return s.deny(p, "view", "reservation "+r.ID)
}

// CanCancel allows the booking customer, the venue owner and admins.
func (s *Service) CanCancel(p Principal, r *models.Reservation) error {
	if s.isParty(p, r) {
		return nil
	}
	return s.deny(p, "cancel", "reservation "+r.ID)
}

// CanOperate allows staff actions on a reservation: assign, extend, complete.
func (s *Service) CanOperate(p Principal, r *models.Reservation, action string) error {
	if p.Role == RoleAdmin || (p.Role == RoleVenueOwner && p.ID == r.OwnerID) {
		return nil
	}
	return s.deny(p, action, "reservation "+r.ID)
}

// CanAdmin allows admins only.
func (s *Service) CanAdmin(p Principal, action string) error {
	if p.Role == RoleAdmin {
		return nil
	}
	return s.deny(p, action, "system")
}

func (s *Service) isParty(p Principal, r *models.Reservation) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleVenueOwner:
		return p.ID == r.OwnerID
	case RoleCustomer:
		return r.CustomerID != "" && p.ID == r.CustomerID
	}
	return false
}

// AccessDeniedError is returned when a principal may not perform an action.
type AccessDeniedError struct {
	Principal Principal
	Action    string
	Resource  string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("%s %q may not %s %s", e.Principal.Role, e.Principal.ID, e.Action, e.Resource)
}

func (e *AccessDeniedError) Is(target error) bool { return target == models.ErrUnauthorized }

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	var denied *AccessDeniedError
	return errors.As(err, &denied)
}
