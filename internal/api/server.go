// Package api exposes the scheduling engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"stationbook/internal/availability"
	"stationbook/internal/booking"
	"stationbook/internal/models"
	"stationbook/internal/reconcile"
	"stationbook/shared/access"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// VenueStore resolves venues for owner-scoped admin routes.
type VenueStore interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
}

// Deps are the services the handlers call.
type Deps struct {
	Manager      *booking.Manager
	Availability *availability.Service
	Reconciler   *reconcile.Reconciler
	Scheduler    *reconcile.Scheduler
	Access       *access.Service
	Venues       VenueStore
}

// RateLimitConfig bounds requests per principal (or client IP when anonymous).
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// Config holds HTTP settings.
type Config struct {
	JWTSecret      string
	CallbackAPIKey string
	RateLimit      RateLimitConfig
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Server wires routes onto an echo instance.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	cfg    Config
	logger zerolog.Logger
}

func NewServer(deps Deps, cfg Config, logger *zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler(logger)

	s := &Server{
		echo:   e,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	if err := s.echo.StartServer(srv); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) routes() {
	e := s.echo
	e.Use(requestLogger(s.logger))

	v1 := e.Group("/api/v1")
	v1.Use(rateLimiter(s.cfg.RateLimit))

	public := v1.Group("", optionalAuth(s.cfg.JWTSecret))
	public.GET("/venues/:venue/availability", s.checkAvailability)
	public.GET("/venues/:venue/slots", s.slotAvailability)

	auth := v1.Group("", JWTAuth(s.cfg.JWTSecret))
	auth.POST("/reservations", s.createReservation)
	auth.GET("/reservations/mine", s.listMine, RequireRole(access.RoleCustomer))
	auth.GET("/reservations/:id", s.getReservation)
	auth.POST("/reservations/:id/cancel", s.cancelReservation)

	staff := auth.Group("", RequireRole(access.RoleVenueOwner, access.RoleAdmin))
	staff.POST("/reservations/:id/assign", s.assignStations)
	staff.POST("/reservations/:id/extend", s.extendReservation)
	staff.POST("/reservations/:id/complete", s.completeSession)
	staff.GET("/venues/:venue/reservations", s.listVenueReservations)
	staff.GET("/venues/:venue/stations", s.stationBoard)
	staff.GET("/venues/:venue/stations/available", s.availableStations)
	staff.POST("/venues/:venue/stations/:station/maintenance", s.toggleMaintenance)
	staff.POST("/admin/fix/stale-activations", s.fixStaleActivations)
	staff.POST("/admin/fix/premature-completions", s.fixPrematureCompletions)

	admin := auth.Group("/admin", RequireRole(access.RoleAdmin))
	admin.POST("/reconcile", s.runReconcile)
	admin.GET("/reconcile", s.reconcileStatus)

	internal := v1.Group("/internal", APIKeyAuth(s.cfg.CallbackAPIKey))
	internal.POST("/payments/confirm", s.confirmPayment)
}
