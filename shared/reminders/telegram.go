package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramError represents an error from Telegram API.
type TelegramError struct {
	Code       int
	Message    string
	RetryAfter int // seconds to wait before retrying (for 429 errors)
}

func (e *TelegramError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Message)
}

// IsTelegramError checks if the error is a TelegramError.
func IsTelegramError(err error) (*TelegramError, bool) {
	var tgErr *TelegramError
	if errors.As(err, &tgErr) {
		return tgErr, true
	}
	return nil, false
}

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts notices to the venue staff chat.
type TelegramNotifier struct {
	bot messageSender
}

// NewTelegramNotifier connects to the Bot API with token.
func NewTelegramNotifier(token string) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: api}, nil
}

func (n *TelegramNotifier) SendSessionEnding(ctx context.Context, s Session, minutesLeft int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.ChatID, FormatNotice(s, minutesLeft))
	if _, err := n.bot.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return &TelegramError{
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				RetryAfter: apiErr.RetryAfter,
			}
		}
		return err
	}
	return nil
}

// FormatNotice renders the staff message for a session.
func FormatNotice(s Session, minutesLeft int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session ending in %d min", minutesLeft)
	if s.VenueName != "" {
		fmt.Fprintf(&b, " at %s", s.VenueName)
	}
	b.WriteString("\n")
	if s.Customer != "" {
		fmt.Fprintf(&b, "Customer: %s\n", s.Customer)
	}
	if len(s.Stations) > 0 {
		fmt.Fprintf(&b, "Stations: %s\n", strings.Join(s.Stations, ", "))
	}
	fmt.Fprintf(&b, "Ends at: %s", s.EndsAt.Format("03:04 PM"))
	return b.String()
}
