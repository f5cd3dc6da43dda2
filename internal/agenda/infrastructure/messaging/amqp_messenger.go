// Package messaging carries reminder messages out of the process. The
// actual email rendering and delivery happens in a separate consumer
// service; this package only hands messages to the broker.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/npjlab/pauta/internal/agenda/application"
)

// NotificationExchange is the direct exchange for outbound reminder mail.
const NotificationExchange = "pauta.notifications"

// NotificationRoutingKey routes reminder messages to the mailer queue.
const NotificationRoutingKey = "notification.email"

// AMQPMessenger publishes reminder messages to RabbitMQ for the mailer
// service to deliver.
type AMQPMessenger struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewAMQPMessenger connects to RabbitMQ and declares the notification exchange.
func NewAMQPMessenger(url string, logger *slog.Logger) (*AMQPMessenger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		NotificationExchange, // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("AMQP messenger connected", "exchange", NotificationExchange)

	return &AMQPMessenger{
		conn:    conn,
		channel: ch,
		logger:  logger,
	}, nil
}

type emailEnvelope struct {
	To      string   `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	SentAt  string   `json:"sent_at"`
}

// Send enqueues one reminder message for delivery.
func (m *AMQPMessenger) Send(ctx context.Context, msg application.Message) error {
	payload, err := json.Marshal(emailEnvelope{
		To:      msg.To,
		CC:      msg.CC,
		Subject: msg.Subject,
		Body:    msg.Body,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.channel.PublishWithContext(ctx,
		NotificationExchange,
		NotificationRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		m.logger.Error("failed to enqueue reminder",
			"recipient", msg.To,
			"error", err,
		)
		return err
	}

	m.logger.Debug("reminder enqueued", "recipient", msg.To, "subject", msg.Subject)
	return nil
}

// Close closes the messenger connection.
func (m *AMQPMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if m.channel != nil {
		if err := m.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
