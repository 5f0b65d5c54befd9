package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Default reconnection parameters.
const (
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// AMQPConn is a RabbitMQ connection that declares durable queues, consumes
// with prefetch 1 and manual acknowledgement, and publishes persistent
// messages. Lost connections are re-established with exponential backoff.
//
// All methods are safe for concurrent use.
type AMQPConn struct {
	url        string
	backoff    time.Duration
	maxBackoff time.Duration

	// OnReconnect, when set, is invoked after every successful
	// re-establishment of the broker connection.
	OnReconnect func()

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// AMQPOption customises an [AMQPConn].
type AMQPOption func(*AMQPConn)

// WithBackoff overrides the initial and maximum reconnect backoff.
func WithBackoff(initial, max time.Duration) AMQPOption {
	return func(c *AMQPConn) {
		c.backoff = initial
		c.maxBackoff = max
	}
}

// DialAMQP connects to the broker at url. The connection is usable for both
// consuming and publishing.
func DialAMQP(url string, opts ...AMQPOption) (*AMQPConn, error) {
	c := &AMQPConn{
		url:        url,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		declared:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("bus: initial connect: %w", err)
	}
	return c, nil
}

// connect dials the broker and opens a prefetch-1 channel. Callers must not
// hold c.mu.
func (c *AMQPConn) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.declared = make(map[string]bool)
	c.mu.Unlock()
	return nil
}

// reconnect blocks until the broker is reachable again or ctx is cancelled.
func (c *AMQPConn) reconnect(ctx context.Context) error {
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		slog.Info("reconnecting to broker", "attempt", attempt, "backoff", backoff)
		if err := c.connect(); err != nil {
			slog.Warn("broker reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}

		slog.Info("broker reconnected", "attempt", attempt)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		return nil
	}
}

// ensureQueue declares the durable queue once per connection.
func (c *AMQPConn) ensureQueue(queue string) (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil, fmt.Errorf("bus: connection closed")
	}
	if !c.declared[queue] {
		if _, err := c.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("bus: declare queue %q: %w", queue, err)
		}
		c.declared[queue] = true
	}
	return c.ch, nil
}

// Consume delivers messages from queue to h, one at a time, acknowledging
// each after the handler returns. Handler errors are logged, never requeued.
// Consume blocks until ctx is cancelled, reconnecting on channel loss.
func (c *AMQPConn) Consume(ctx context.Context, queue string, h Handler) error {
	for {
		ch, err := c.ensureQueue(queue)
		if err == nil {
			err = c.consumeOnce(ctx, ch, queue, h)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("consume interrupted", "queue", queue, "error", err)
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
}

// consumeOnce runs the delivery loop on one live channel. It returns when
// the channel dies or ctx is cancelled.
func (c *AMQPConn) consumeOnce(ctx context.Context, ch *amqp.Channel, queue string, h Handler) error {
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: consume %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("bus: delivery channel closed")
			}
			if err := h(ctx, d.Body); err != nil {
				slog.Error("message handler failed", "queue", queue, "error", err)
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("bus: ack: %w", err)
			}
		}
	}
}

// Publish sends body to queue as a persistent JSON message, reconnecting
// once if the channel has died underneath us.
func (c *AMQPConn) Publish(ctx context.Context, queue string, body []byte) error {
	for attempt := 0; ; attempt++ {
		ch, err := c.ensureQueue(queue)
		if err == nil {
			err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Body:         body,
			})
			if err == nil {
				return nil
			}
		}
		if attempt > 0 {
			return fmt.Errorf("bus: publish to %q: %w", queue, err)
		}
		if rerr := c.reconnect(ctx); rerr != nil {
			return fmt.Errorf("bus: publish to %q: %w", queue, rerr)
		}
	}
}

// Close shuts the channel and connection down.
func (c *AMQPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
