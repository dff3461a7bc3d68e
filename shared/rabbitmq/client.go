package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned while the channel is down
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// ErrNacked means the broker refused a confirmed publish
var ErrNacked = errors.New("broker nacked publish")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	// DeadLetterQueue receives messages consumers reject without requeue.
	// Empty disables dead-lettering.
	DeadLetterQueue string

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration

	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	PublisherConfirms  bool

	PrefetchCount int
}

// URI renders the AMQP connection string
func (c *Config) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// DeadLetterExchange is the fanout exchange feeding DeadLetterQueue
func (c *Config) DeadLetterExchange() string {
	if c.DeadLetterQueue == "" {
		return ""
	}
	return c.ExchangeName + ".dlx"
}

// queueArgs are the x-arguments of the work queue
func (c *Config) queueArgs() amqp.Table {
	if dlx := c.DeadLetterExchange(); dlx != "" {
		return amqp.Table{"x-dead-letter-exchange": dlx}
	}
	return nil
}

// Client represents a RabbitMQ client
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	isConnected atomic.Bool
}

// NewClient connects, declares the topology and returns a ready client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func (c *Client) connect(ctx context.Context) error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(c.config.ConnectionTimeout),
	}

	attempts := max(c.config.RetryAttempts, 1)
	err := retry(ctx, attempts, c.config.RetryInterval, 1, func(attempt int) error {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)
		conn, err := amqp.DialConfig(c.config.URI(), amqpConfig)
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	}, c.logRetry("Failed to connect to RabbitMQ"))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.declare(ch); err != nil {
		ch.Close()
		c.conn.Close()
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	if c.config.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			c.conn.Close()
			return fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	c.channel = ch
	c.isConnected.Store(true)
	go c.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("dead_letter_queue", c.config.DeadLetterQueue),
		slog.Bool("confirms", c.config.PublisherConfirms),
	)

	return nil
}

// watch marks the client disconnected when the broker closes the channel
func (c *Client) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed
	c.isConnected.Store(false)
	if ok && err != nil {
		c.logger.Error("RabbitMQ channel closed",
			slog.Int("code", err.Code),
			slog.String("reason", err.Reason),
		)
	}
}

// declare sets up the compile exchange and queue, plus the dead-letter pair
// when configured. The dead-letter side is declared first so the work queue
// can reference it.
func (c *Client) declare(ch *amqp.Channel) error {
	if dlx := c.config.DeadLetterExchange(); dlx != "" {
		if err := ch.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(c.config.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(c.config.DeadLetterQueue, "", dlx, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}

	if err := ch.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		c.config.ExchangeDurable,
		c.config.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		c.config.QueueName,
		c.config.QueueDurable,
		c.config.QueueAutoDelete,
		c.config.QueueExclusive,
		false, // no-wait
		c.config.queueArgs(),
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(c.config.QueueName, c.config.RoutingKey, c.config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// PublishJSON marshals v and publishes it under messageID
func (c *Client) PublishJSON(ctx context.Context, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.PublishWithRetry(ctx, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   messageID,
		Body:        body,
	})
}

// PublishWithRetry publishes a persistent message, backing off exponentially
// between attempts. With confirms enabled an attempt only succeeds once the
// broker acks it.
func (c *Client) PublishWithRetry(ctx context.Context, msg amqp.Publishing) error {
	if !c.isConnected.Load() {
		return ErrNotConnected
	}

	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = 3
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	mult := c.config.PublishBackoffMult
	if mult <= 0 {
		mult = 2.0
	}

	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	err := retry(ctx, retries+1, delay, mult, func(int) error {
		return c.publishOnce(ctx, msg)
	}, c.logRetry("Failed to publish message to RabbitMQ, retrying"))
	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.String("message_id", msg.MessageId),
			slog.Int("attempts", retries+1),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.String("message_id", msg.MessageId),
		slog.Int("body_size", len(msg.Body)),
	)
	return nil
}

func (c *Client) publishOnce(ctx context.Context, msg amqp.Publishing) error {
	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return err
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// Consume starts consuming messages from the queue with manual acks
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected.Load() {
		return nil, ErrNotConnected
	}

	if c.config.PrefetchCount > 0 {
		if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	messages, err := c.channel.Consume(
		c.config.QueueName,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", c.config.PrefetchCount),
	)

	return messages, nil
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	c.isConnected.Store(false)

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected.Load() && c.conn != nil && !c.conn.IsClosed()
}

func (c *Client) logRetry(msg string) func(attempt int, wait time.Duration, err error) {
	return func(attempt int, wait time.Duration, err error) {
		c.logger.Warn(msg,
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", wait),
			slog.Any("error", err),
		)
	}
}

// retry calls fn up to attempts times, numbering attempts from 1. Between
// failures it waits BackoffDelay(base, mult, n) and reports through onRetry.
// A done ctx stops the wait.
func retry(ctx context.Context, attempts int, base time.Duration, mult float64, fn func(attempt int) error, onRetry func(int, time.Duration, error)) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := BackoffDelay(base, mult, attempt-1)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
	}
	return err
}

// BackoffDelay is the wait before retry number attempt+1: base * mult^attempt.
func BackoffDelay(base time.Duration, mult float64, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
}
