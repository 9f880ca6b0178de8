// Package events publishes domain events (sign-ups, content changes) to a
// topic exchange. Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys.
const (
	SignupCompleted  = "signup.completed"
	SignupIncomplete = "signup.incomplete"
	OrphanResolved   = "signup.orphan_resolved"
	EchoCreated      = "echo.created"
	EchoDeleted      = "echo.deleted"
	EchoPinned       = "echo.pinned"
	EchoUnpinned     = "echo.unpinned"
	GameCreated      = "game.created"
	GameDeleted      = "game.deleted"
)

// Envelope is the JSON body of every message.
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, data any) error
	Close() error
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                                { return nil }

// AMQP holds one connection and channel for the life of the process.
// amqp091 channels are not safe for concurrent publishes, hence mu.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declaring exchange %s: %w", exchange, err)
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQP) Publish(ctx context.Context, key string, data any) error {
	body, err := Encode(key, data, time.Now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("events: publishing %s: %w", key, err)
	}
	return nil
}

func (p *AMQP) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	return p.conn.Close()
}

// Encode builds the message body for key.
func Encode(key string, data any, at time.Time) ([]byte, error) {
	body, err := json.Marshal(Envelope{Type: key, OccurredAt: at.UTC(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("events: encoding %s: %w", key, err)
	}
	return body, nil
}
