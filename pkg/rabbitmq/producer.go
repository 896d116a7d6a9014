/**
 * @description
 * RabbitMQ publisher for settlement events. Each event is marshalled to JSON and
 * published to a durable topic exchange so downstream consumers can bind to the routing
 * keys they care about (e.g. "settlement.*").
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// EventProducer publishes events to RabbitMQ. It is safe for concurrent use.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
}

func normalizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("invalid AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	if u.Path == "" {
		clean += "/"
	}
	return clean, nil
}

// NewEventProducer dials the broker and opens a channel.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := normalizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	return &EventProducer{
		conn:     conn,
		channel:  channel,
		logger:   logger,
		declared: make(map[string]bool),
	}, nil
}

// Publish sends body as JSON to exchange with routingKey. The exchange is declared on
// first use.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         payload,
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", exchange, err)
	}

	p.logger.Debug("published event", "exchange", exchange, "routing_key", routingKey)
	return nil
}

// Close closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
