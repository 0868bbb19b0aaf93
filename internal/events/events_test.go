package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	logger := zerolog.New(io.Discard)
	bus := NewEventBus(&logger)

	var got []Event
	bus.Subscribe(TypeReservationCreated, func(e Event) error {
		return errors.New("first handler fails")
	})
	bus.Subscribe(TypeReservationCreated, func(e Event) error {
		got = append(got, e)
		return nil
	})

	bus.Emit(TypeReservationCreated, map[string]string{"id": "r1"})
	bus.Emit(TypeReservationCompleted, map[string]string{"id": "r1"})

	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.JSONEq(t, `{"id":"r1"}`, string(got[0].Payload))

	var nilBus *EventBus
	assert.NotPanics(t, func() { nilBus.Emit(TypeReservationCreated, nil) })
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := m.Called(name, durable)
	return amqp.Queue{Name: name}, a.Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	a := m.Called(key, msg)
	return a.Error(0)
}

func (m *mockChannel) Close() error { return nil }

func TestPublisherRoutesRefunds(t *testing.T) {
	ch := new(mockChannel)
	dials := 0
	p := newPublisher(func() (channel, func() error, error) {
		dials++
		return ch, func() error { return nil }, nil
	}, "reservation.refund", "reservation.events", nil)

	bus := NewEventBus(nil)
	p.Attach(bus)

	ch.On("QueueDeclare", "reservation.refund", true).Return(nil).Once()
	ch.On("PublishWithContext", "reservation.refund", mock.MatchedBy(func(msg amqp.Publishing) bool {
		return msg.DeliveryMode == amqp.Persistent && string(msg.Body) == `{"amount":"300"}`
	})).Return(nil).Once()

	ch.On("QueueDeclare", "reservation.events", true).Return(nil).Once()
	ch.On("PublishWithContext", "reservation.events", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var e Event
		return json.Unmarshal(msg.Body, &e) == nil && e.Type == TypeReservationCancelled
	})).Return(nil).Once()

	bus.Emit(TypeRefundRequested, map[string]string{"amount": "300"})
	bus.Emit(TypeReservationCancelled, map[string]string{"id": "r1"})

	ch.AssertExpectations(t)
	assert.Equal(t, 1, dials)
}

func TestPublisherRedialsAfterFailure(t *testing.T) {
	ch := new(mockChannel)
	dials := 0
	p := newPublisher(func() (channel, func() error, error) {
		dials++
		return ch, nil, nil
	}, "refund", "events", nil)

	ch.On("QueueDeclare", "events", true).Return(nil)
	ch.On("PublishWithContext", "events", mock.Anything).Return(errors.New("channel closed")).Once()
	ch.On("PublishWithContext", "events", mock.Anything).Return(nil).Once()

	ctx := context.Background()
	assert.Error(t, p.Publish(ctx, "events", "m1", []byte(`{}`)))
	assert.NoError(t, p.Publish(ctx, "events", "m2", []byte(`{}`)))
	assert.Equal(t, 2, dials)

	_, err := NewEvent("x", func() {})
	assert.Error(t, err)
}
