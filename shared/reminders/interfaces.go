// Package reminders tells venue staff that a station session is about to end.
package reminders

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Session is an Active reservation that is close to its end.
type Session struct {
	ReservationID string
	VenueID       string
	VenueName     string
	ChatID        int64
	Customer      string
	Stations      []string
	EndsAt        time.Time
}

// MinutesLeft is the time left at now, never negative.
func (s Session) MinutesLeft(now time.Time) int {
	if !now.Before(s.EndsAt) {
		return 0
	}
	return int(s.EndsAt.Sub(now).Minutes())
}

// SessionStore provides the sessions that need a notice.
type SessionStore interface {
	// EndingSessions returns not yet notified Active sessions whose end falls in [from, to].
	EndingSessions(ctx context.Context, from, to time.Time) ([]Session, error)

	// MarkNotified records that the notice for a reservation went out.
	MarkNotified(ctx context.Context, reservationID string) error
}

// Notifier delivers a notice to a staff chat.
type Notifier interface {
	SendSessionEnding(ctx context.Context, s Session, minutesLeft int) error
}

// Logger interface for logging.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
}

// ZerologAdapter exposes a zerolog.Logger as a Logger.
type ZerologAdapter struct {
	L zerolog.Logger
}

func (a ZerologAdapter) Info(msg string, fields ...interface{}) {
	a.L.Info().Fields(fields).Msg(msg)
}

func (a ZerologAdapter) Error(msg string, fields ...interface{}) {
	a.L.Error().Fields(fields).Msg(msg)
}

func (a ZerologAdapter) Debug(msg string, fields ...interface{}) {
	a.L.Debug().Fields(fields).Msg(msg)
}
