package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the reservation engine.
const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationConfirmed = "reservation.confirmed"
	TypeReservationCancelled = "reservation.cancelled"
	TypeReservationActivated = "reservation.activated"
	TypeReservationExtended  = "reservation.extended"
	TypeReservationCompleted = "reservation.completed"
	TypeReservationReverted  = "reservation.reverted"
	TypeRefundRequested      = "refund.requested"
)

// AllTypes lists every event type, for subscribers that forward everything.
var AllTypes = []string{
	TypeReservationCreated,
	TypeReservationConfirmed,
	TypeReservationCancelled,
	TypeReservationActivated,
	TypeReservationExtended,
	TypeReservationCompleted,
	TypeReservationReverted,
	TypeRefundRequested,
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent marshals payload into an event with a fresh id.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
// Handlers run synchronously; a failing handler is logged and does not stop the others.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Error().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("Event handler failed")
		}
	}
}

// Emit builds and publishes an event, logging marshal failures.
func (b *EventBus) Emit(eventType string, payload any) {
	if b == nil {
		return
	}
	event, err := NewEvent(eventType, payload)
	if err != nil {
		if b.logger != nil {
			b.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to encode event")
		}
		return
	}
	b.Publish(event)
}
