package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func() (channel, func() error, error)

// Publisher forwards bus events to durable RabbitMQ queues.
// Refund instructions go to the refund queue, everything else to the events queue.
// The connection is opened lazily and dropped after any failure so the next publish redials.
type Publisher struct {
	dial        dialFunc
	refundQueue string
	eventsQueue string
	timeout     time.Duration
	logger      *zerolog.Logger

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url, refundQueue, eventsQueue string, logger *zerolog.Logger) *Publisher {
	dial := func() (channel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		return ch, conn.Close, nil
	}
	return newPublisher(dial, refundQueue, eventsQueue, logger)
}

func newPublisher(dial dialFunc, refundQueue, eventsQueue string, logger *zerolog.Logger) *Publisher {
	return &Publisher{
		dial:        dial,
		refundQueue: refundQueue,
		eventsQueue: eventsQueue,
		timeout:     5 * time.Second,
		logger:      logger,
	}
}

// Attach subscribes the publisher to every event type on bus.
func (p *Publisher) Attach(bus *EventBus) {
	for _, t := range AllTypes {
		bus.Subscribe(t, p.Handle)
	}
}

// Handle publishes one event. It is an EventHandler.
func (p *Publisher) Handle(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	queue, body := p.eventsQueue, []byte(nil)
	if event.Type == TypeRefundRequested {
		// Refund consumers get the bare instruction.
		queue, body = p.refundQueue, event.Payload
	} else {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		body = data
	}
	return p.Publish(ctx, queue, event.ID, body)
}

// Publish sends body to queue as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, queue, messageID string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return err
	}

	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.resetLocked()
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	if p.logger != nil {
		p.logger.Debug().Str("queue", queue).Str("message_id", messageID).Msg("Published message")
	}
	return nil
}

func (p *Publisher) connectLocked() error {
	if p.ch != nil {
		return nil
	}
	ch, closeConn, err := p.dial()
	if err != nil {
		return err
	}
	p.ch, p.closeConn = ch, closeConn
	return nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}
