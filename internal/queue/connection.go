package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	dialAttempts = 5
	dialBackoff  = 2 * time.Second
	heartbeat    = 10 * time.Second
)

// Connection holds one AMQP connection and channel. The channel is
// re-established lazily by Channel after the broker drops it.
type Connection struct {
	url string
	cfg amqp.Config
	log zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConnection dials the broker, retrying a few times so that the api and
// worker can start alongside RabbitMQ. name shows up in the management UI.
func NewConnection(ctx context.Context, url, name string, log zerolog.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}

	c := &Connection{
		url: url,
		cfg: amqp.Config{
			Heartbeat:  heartbeat,
			Properties: amqp.Table{"connection_name": name},
			Dial:       amqp.DefaultDial(5 * time.Second),
		},
		log: log.With().Str("component", "rabbitmq").Str("connection", name).Logger(),
	}

	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		if err = c.dial(); err == nil {
			c.log.Info().Msg("connected to rabbitmq")
			return c, nil
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("rabbitmq not reachable")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", dialAttempts, err)
}

// dial replaces the connection and channel; callers hold mu or own c exclusively
func (c *Connection) dial() error {
	c.closeLocked()

	conn, err := amqp.DialConfig(c.url, c.cfg)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Channel returns the shared channel, redialling when it has been closed
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthyLocked() {
		return c.channel, nil
	}

	c.log.Warn().Msg("channel closed, reconnecting")
	if err := c.dial(); err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}
	c.log.Info().Msg("reconnected to rabbitmq")
	return c.channel, nil
}

// Probe reports whether the broker is reachable, reconnecting once if the
// connection was lost. It satisfies the health checker's queue probe.
func (c *Connection) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.Channel()
	return err
}

func (c *Connection) healthyLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

func (c *Connection) closeLocked() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

// Close closes the channel and connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeLocked(); err != nil {
		return err
	}
	c.log.Info().Msg("rabbitmq connection closed")
	return nil
}

// declareQueue declares the durable job queue shared by publisher and consumer
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}
