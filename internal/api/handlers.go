package api

import (
	"net/http"
	"strconv"
	"strings"

	"stationbook/internal/availability"
	"stationbook/internal/booking"
	"stationbook/internal/models"
	"stationbook/shared/access"

	"github.com/labstack/echo/v4"
)

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return models.InputError("malformed request body")
	}
	return nil
}

func queryFloat(c echo.Context, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, models.InputError("%s must be a number", name)
	}
	return v, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.InputError("%s must be an integer", name)
	}
	return v, nil
}

func (s *Server) checkAvailability(c echo.Context) error {
	duration, err := queryFloat(c, "duration", 1)
	if err != nil {
		return err
	}
	quantity, err := queryInt(c, "quantity", 1)
	if err != nil {
		return err
	}
	res, err := s.deps.Availability.CheckAvailability(c.Request().Context(), availability.Query{
		VenueID:     c.Param("venue"),
		RoomName:    c.QueryParam("room"),
		StationType: c.QueryParam("type"),
		Date:        c.QueryParam("date"),
		StartTime:   c.QueryParam("start"),
		Duration:    duration,
		Quantity:    quantity,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) slotAvailability(c echo.Context) error {
	grid, err := s.deps.Availability.SlotAvailability(c.Request().Context(), c.Param("venue"), c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"date": c.QueryParam("date"), "slots": grid})
}

func (s *Server) createReservation(c echo.Context) error {
	p, _ := principalFrom(c)
	var body createBody
	if err := bind(c, &body); err != nil {
		return err
	}
	req, err := body.toCreateRequest()
	if err != nil {
		return err
	}
	r, err := s.deps.Manager.Create(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (s *Server) getReservation(c echo.Context) error {
	p, _ := principalFrom(c)
	r, err := s.deps.Manager.Get(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) listMine(c echo.Context) error {
	p, _ := principalFrom(c)
	list, err := s.deps.Manager.ListMine(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": list})
}

func (s *Server) listVenueReservations(c echo.Context) error {
	p, _ := principalFrom(c)
	list, err := s.deps.Manager.ListForVenue(c.Request().Context(), p, c.Param("venue"), c.QueryParam("date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": list})
}

func (s *Server) cancelReservation(c echo.Context) error {
	p, _ := principalFrom(c)
	var body cancelBody
	if c.Request().ContentLength > 0 {
		if err := bind(c, &body); err != nil {
			return err
		}
	}
	r, refund, err := s.deps.Manager.Cancel(c.Request().Context(), p, c.Param("id"), body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cancelResponse{Reservation: r, Refund: refund})
}

func (s *Server) assignStations(c echo.Context) error {
	p, _ := principalFrom(c)
	var body assignBody
	if err := bind(c, &body); err != nil {
		return err
	}
	r, err := s.deps.Manager.Assign(c.Request().Context(), p, c.Param("id"), body.toAssignRequest())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) extendReservation(c echo.Context) error {
	p, _ := principalFrom(c)
	var body extendBody
	if err := bind(c, &body); err != nil {
		return err
	}
	r, err := s.deps.Manager.Extend(c.Request().Context(), p, c.Param("id"), body.Hours)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) completeSession(c echo.Context) error {
	p, _ := principalFrom(c)
	r, err := s.deps.Manager.Complete(c.Request().Context(), p, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) stationBoard(c echo.Context) error {
	p, _ := principalFrom(c)
	board, err := s.deps.Manager.StationBoard(c.Request().Context(), p, c.Param("venue"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"stations": board})
}

func (s *Server) availableStations(c echo.Context) error {
	p, _ := principalFrom(c)
	free, err := s.deps.Manager.AvailableForAssignment(c.Request().Context(), p,
		c.Param("venue"), c.QueryParam("room"), c.QueryParam("type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"available": free})
}

func (s *Server) toggleMaintenance(c echo.Context) error {
	p, _ := principalFrom(c)
	var body maintenanceBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.UnderMaintenance == nil {
		return models.InputError("underMaintenance is required")
	}
	st, err := s.deps.Manager.SetMaintenance(c.Request().Context(), p, c.Param("venue"), c.Param("station"), *body.UnderMaintenance)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) confirmPayment(c echo.Context) error {
	var body paymentBody
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.ReservationID == "" {
		return models.InputError("reservationId is required")
	}
	r, err := s.deps.Manager.ConfirmPayment(c.Request().Context(), booking.PaymentConfirmation{
		ReservationID:    body.ReservationID,
		PaymentMethod:    models.PaymentMethod(strings.ToLower(body.PaymentMethod)),
		PaymentReference: body.PaymentReference,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r.Redacted())
}

func (s *Server) runReconcile(c echo.Context) error {
	report := s.deps.Scheduler.Trigger(c.Request().Context())
	return c.JSON(http.StatusOK, report)
}

func (s *Server) reconcileStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Scheduler.LastRun())
}

// fixScope resolves the venue a repair may touch. Admins may repair everything;
// owners only their own venue.
func (s *Server) fixScope(c echo.Context, action string) (string, error) {
	p, _ := principalFrom(c)
	venueID := strings.TrimSpace(c.QueryParam("venue"))
	if p.Role == access.RoleAdmin {
		return venueID, nil
	}
	if venueID == "" {
		return "", models.InputError("venue is required")
	}
	venue, err := s.deps.Venues.GetVenue(c.Request().Context(), venueID)
	if err != nil {
		return "", err
	}
	return venueID, s.deps.Access.CanOperateVenue(p, venue, action)
}

func (s *Server) fixStaleActivations(c echo.Context) error {
	venueID, err := s.fixScope(c, "revert stale activations")
	if err != nil {
		return err
	}
	report, err := s.deps.Reconciler.RevertStaleActivations(c.Request().Context(), venueID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) fixPrematureCompletions(c echo.Context) error {
	venueID, err := s.fixScope(c, "revert premature completions")
	if err != nil {
		return err
	}
	report, err := s.deps.Reconciler.RevertPrematureCompletions(c.Request().Context(), venueID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
