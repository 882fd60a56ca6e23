package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys published by the app.
const (
	KeyLimboAlert    = "limbo.alert"
	KeySyncCompleted = "sync.completed"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("amqp publisher is closed")

// Event is the JSON envelope of every published message.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// NewEvent wraps data with a fresh id.
func NewEvent(kind string, at time.Time, data any) Event {
	return Event{ID: uuid.NewString(), Type: kind, OccurredAt: at.UTC(), Data: data}
}

// Publisher sends JSON events to a durable topic exchange. It dials lazily
// and redials after the connection drops.
type Publisher struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewPublisher(url, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exchange == "" {
		exchange = "helpdesk.events"
	}
	return &Publisher{url: url, exchange: exchange, logger: logger}
}

// Exchange is the exchange events are published to.
func (p *Publisher) Exchange() string { return p.exchange }

func (p *Publisher) connectLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.conn, p.channel = conn, ch
	p.logger.Info("amqp connected", zap.String("exchange", p.exchange))
	return nil
}

func (p *Publisher) resetLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.channel, p.conn = nil, nil
}

// Publish marshals ev and sends it with routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return err
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Ping dials if needed and reports whether the broker is reachable.
func (p *Publisher) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.channel, p.conn = nil, nil
	return errors.Join(errs...)
}
