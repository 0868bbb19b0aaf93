package api

import (
	"errors"
	"net/http"

	"stationbook/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "not_found":
		return http.StatusNotFound
	case "invalid_duration", "invalid_input", "invalid_code", "assignment_mismatch":
		return http.StatusBadRequest
	case "capacity_exceeded", "cancellation_window_closed", "station_unavailable",
		"station_busy", "invalid_state", "price_resolution_failed":
		return http.StatusConflict
	case "unauthorized":
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Hour      *int   `json:"hour,omitempty"`
	Free      *int   `json:"free,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	StationID string `json:"station_id,omitempty"`
}

func bodyFor(err error) (int, errorBody) {
	kind := models.Kind(err)
	status := statusFor(kind)
	body := errorBody{Error: kind, Message: err.Error()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}

	var capErr *models.CapacityError
	if errors.As(err, &capErr) {
		body.Hour, body.Free, body.Requested = &capErr.Hour, &capErr.Free, &capErr.Requested
	}
	var stErr *models.StationError
	if errors.As(err, &stErr) {
		body.StationID = stErr.StationID
	}
	return status, body
}

// httpErrorHandler renders domain errors and echo errors as JSON.
func httpErrorHandler(logger *zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok {
				msg = m
			}
			_ = c.JSON(he.Code, errorBody{Error: "http_error", Message: msg})
			return
		}

		status, body := bodyFor(err)
		if status == http.StatusInternalServerError {
			logger.Error().Err(err).Str("route", c.Path()).Msg("Request failed")
		}
		_ = c.JSON(status, body)
	}
}
