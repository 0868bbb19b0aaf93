package reminders

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// SenderConfig holds configuration for the sender.
type SenderConfig struct {
	// PerSecond is the sustained message rate.
	PerSecond float64
	// Burst is the maximum number of messages sent back to back.
	Burst int
	Retry RetryConfig
}

// DefaultSenderConfig returns the default configuration.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		PerSecond: 20,
		Burst:     30,
		Retry:     DefaultRetryConfig(),
	}
}

// Sender delivers notices with rate limiting and retry logic.
type Sender struct {
	notifier    Notifier
	store       SessionStore
	limiter     *rate.Limiter
	retryConfig RetryConfig
	metrics     *Metrics
	logger      Logger
}

func NewSender(notifier Notifier, store SessionStore, config SenderConfig, metrics *Metrics, logger Logger) *Sender {
	if config.PerSecond <= 0 {
		config.PerSecond = 20
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Sender{
		notifier:    notifier,
		store:       store,
		limiter:     rate.NewLimiter(rate.Limit(config.PerSecond), config.Burst),
		retryConfig: config.Retry,
		metrics:     metrics,
		logger:      logger,
	}
}

// Outcome of one send.
const (
	outcomeSent    = "sent"
	outcomeDropped = "dropped"
	outcomeFailed  = "failed"
)

// SendWithRetry sends one notice and marks the session notified on success.
// A session the chat refuses (blocked bot, bad request) is marked notified too, so it is not retried forever.
func (s *Sender) SendWithRetry(ctx context.Context, session Session, now time.Time) (string, error) {
	if !s.limiter.Allow() {
		s.metrics.IncRateLimitWaits()
		if err := s.limiter.Wait(ctx); err != nil {
			return outcomeFailed, fmt.Errorf("rate limiter: %w", err)
		}
	}

	minutes := session.MinutesLeft(now)
	delays := s.retryConfig.RetryDelays
	var lastErr error

	for attempt := 0; attempt <= s.retryConfig.MaxRetries; attempt++ {
		started := time.Now()
		err := s.notifier.SendSessionEnding(ctx, session, minutes)
		s.metrics.ObserveSendDuration(time.Since(started).Seconds())
		if err == nil {
			return outcomeSent, s.markNotified(ctx, session)
		}
		lastErr = err

		if tgErr, ok := IsTelegramError(err); ok {
			switch tgErr.Code {
			case 429:
				wait := time.Duration(tgErr.RetryAfter) * time.Second
				if wait == 0 && attempt < len(delays) {
					wait = delays[attempt]
				}
				s.logger.Info("rate limited by Telegram, waiting",
					"retry_after", wait.String(),
					"attempt", attempt,
					"reservation_id", session.ReservationID)
				s.metrics.IncRetries()
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return outcomeFailed, ctx.Err()
				}
			case 400, 403:
				s.logger.Info("staff chat refused notice",
					"chat_id", session.ChatID,
					"code", tgErr.Code,
					"reservation_id", session.ReservationID)
				return outcomeDropped, s.markNotified(ctx, session)
			}
		}

		if attempt < s.retryConfig.MaxRetries && attempt < len(delays) {
			s.metrics.IncRetries()
			s.logger.Info("retrying notice",
				"attempt", attempt+1,
				"max_retries", s.retryConfig.MaxRetries,
				"delay", delays[attempt].String(),
				"error", err.Error())
			select {
			case <-time.After(delays[attempt]):
			case <-ctx.Done():
				return outcomeFailed, ctx.Err()
			}
		}
	}

	s.logger.Error("max retries exceeded for notice",
		"reservation_id", session.ReservationID,
		"error", lastErr.Error())
	return outcomeFailed, lastErr
}

func (s *Sender) markNotified(ctx context.Context, session Session) error {
	if err := s.store.MarkNotified(ctx, session.ReservationID); err != nil {
		s.logger.Error("failed to mark notice as sent",
			"reservation_id", session.ReservationID,
			"error", err.Error())
		return err
	}
	return nil
}
