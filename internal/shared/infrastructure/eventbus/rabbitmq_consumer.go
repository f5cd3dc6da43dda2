package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultConsumerQueue is the durable queue the sync worker consumes from.
const DefaultConsumerQueue = "pauta.worker"

// RabbitMQConsumer delivers agenda events from the broker to registered
// consumers. Each consumer's routing keys are bound to a shared queue.
type RabbitMQConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	exchange string
	registry *ConsumerRegistry
	logger   *slog.Logger
	mu       sync.Mutex
	running  bool
	done     chan struct{}
}

// NewRabbitMQConsumer connects to the broker and declares the queue.
func NewRabbitMQConsumer(url, queueName string, registry *ConsumerRegistry, logger *slog.Logger) (*RabbitMQConsumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueName == "" {
		queueName = DefaultConsumerQueue
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

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	logger.Info("RabbitMQ consumer connected", "queue", queueName, "exchange", ExchangeName)

	return &RabbitMQConsumer{
		conn:     conn,
		channel:  ch,
		queue:    queueName,
		exchange: ExchangeName,
		registry: registry,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// RegisterConsumer registers the consumer and binds its routing keys.
func (c *RabbitMQConsumer) RegisterConsumer(consumer EventConsumer) {
	c.registry.Register(consumer)

	for _, eventType := range consumer.EventTypes() {
		if err := c.bindQueue(eventType); err != nil {
			c.logger.Error("failed to bind routing key",
				"routing_key", eventType,
				"error", err,
			)
		}
	}
}

func (c *RabbitMQConsumer) bindQueue(routingKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.QueueBind(c.queue, routingKey, c.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Start consumes messages until the context is cancelled or Close is called.
// Processing is sequential: prefetch is 1 and the next delivery is only
// handed over after the current one is acked or nacked.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consuming agenda events", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.done:
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed unexpectedly")
			}

			if err := c.processMessage(ctx, msg); err != nil {
				// Requeue so a later cycle can retry.
				if nackErr := msg.Nack(false, true); nackErr != nil {
					c.logger.Error("failed to nack message", "error", nackErr)
				}
			} else {
				if ackErr := msg.Ack(false); ackErr != nil {
					c.logger.Error("failed to ack message", "error", ackErr)
				}
			}
		}
	}
}

func (c *RabbitMQConsumer) processMessage(ctx context.Context, msg amqp.Delivery) error {
	event := &ConsumedEvent{}
	if err := json.Unmarshal(msg.Body, event); err != nil {
		c.logger.Error("discarding malformed event",
			"routing_key", msg.RoutingKey,
			"error", err,
		)
		// Ack and drop, retrying cannot fix a malformed body.
		return nil
	}

	if event.RoutingKey == "" {
		event.RoutingKey = msg.RoutingKey
	}

	start := time.Now()
	if err := c.registry.Dispatch(ctx, event); err != nil {
		c.logger.Error("event dispatch failed",
			"routing_key", event.RoutingKey,
			"event_id", event.EventID,
			"error", err,
		)
		return err
	}

	c.logger.Debug("event processed",
		"routing_key", event.RoutingKey,
		"event_id", event.EventID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Close stops consumption and closes the connection.
func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	c.running = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("error closing channel", "error", err)
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
