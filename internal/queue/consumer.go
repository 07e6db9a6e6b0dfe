package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const resubscribeDelay = 2 * time.Second

// Consumer consumes campaign jobs from a RabbitMQ queue
type Consumer struct {
	conn      *Connection
	queueName string
	handler   JobHandler
	log       zerolog.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}

	// subscribe opens a delivery stream; replaced in tests
	subscribe  func() (<-chan amqp.Delivery, error)
	retryDelay time.Duration
}

// JobHandler processes one campaign job
type JobHandler func(ctx context.Context, job *CampaignJob) error

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler JobHandler, log zerolog.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareQueue(ch, queueName); err != nil {
		return nil, err
	}

	c := &Consumer{
		conn:       conn,
		queueName:  queueName,
		handler:    handler,
		log:        log.With().Str("component", "consumer").Str("queue", queueName).Logger(),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		retryDelay: resubscribeDelay,
	}
	c.subscribe = c.consume
	return c, nil
}

// consume (re)opens the channel and registers this consumer on the queue
func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	// after a reconnect the queue may not exist on a fresh broker
	if err := declareQueue(ch, c.queueName); err != nil {
		return nil, err
	}

	// Jobs only hand campaigns to the runner, so a small prefetch is enough.
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return msgs, nil
}

// Start starts consuming jobs from the queue. When the broker closes the
// delivery stream the consumer resubscribes until Stop is called or ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.subscribe()
	if err != nil {
		return err
	}

	go func() {
		defer close(c.doneChan)

		for {
			select {
			case <-c.stopChan:
				c.log.Info().Msg("consumer stopping")
				return
			case <-ctx.Done():
				c.log.Info().Msg("consumer context done")
				return
			case d, ok := <-msgs:
				if ok {
					c.process(ctx, d)
					continue
				}
				c.log.Warn().Msg("delivery channel closed, resubscribing")
				if msgs = c.resubscribe(ctx); msgs == nil {
					return
				}
			}
		}
	}()

	c.log.Info().Msg("consumer started")
	return nil
}

// resubscribe retries subscribe until it succeeds. It returns nil once the
// consumer is stopped or ctx ends.
func (c *Consumer) resubscribe(ctx context.Context) <-chan amqp.Delivery {
	for attempt := 1; ; attempt++ {
		select {
		case <-c.stopChan:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryDelay):
		}

		msgs, err := c.subscribe()
		if err == nil {
			c.log.Info().Int("attempt", attempt).Msg("consumer resubscribed")
			return msgs
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("resubscribe failed")
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		// A malformed job will never succeed; drop it.
		c.log.Error().Err(err).Msg("discarding malformed job")
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler(ctx, job); err != nil {
		c.log.Error().Err(err).Int("campaign_id", job.CampaignID).Str("job_id", job.JobID).Msg("job failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Stop stops consuming jobs gracefully
func (c *Consumer) Stop() error {
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	<-c.doneChan

	c.log.Info().Msg("consumer stopped")
	return nil
}
