package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection and topology settings
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	// DeadLetterExchange, when set, receives messages nacked without requeue.
	// A fanout exchange and a "<queue>.dead" queue are declared for it.
	DeadLetterExchange string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL renders the AMQP URI with escaped credentials
func (c *Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   c.VHost,
	}
	return u.String()
}

// deadLetterQueue is where dropped job messages are parked
func (c *Config) deadLetterQueue() string {
	return c.QueueName + ".dead"
}

func (c *Config) queueArgs() amqp.Table {
	if c.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": c.DeadLetterExchange}
}

// Client owns one connection and one channel. Publishes are serialized
// because an amqp channel must not be shared across goroutines.
type Client struct {
	config    *Config
	logger    *slog.Logger
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected atomic.Bool
	publishMu sync.Mutex
}

// NewClient dials RabbitMQ, retrying per RetryAttempts, and declares the topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = ch
	c.connected.Store(true)
	go c.watchClose(ch.NotifyClose(make(chan *amqp.Error, 1)))

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("dead_letter_exchange", c.config.DeadLetterExchange),
	)
	return nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	amqpConfig := amqp.Config{Heartbeat: c.config.Heartbeat, Locale: "en_US"}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	var conn *amqp.Connection
	attempt := 0
	op := func() error {
		attempt++
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
		)
		var err error
		conn, err = amqp.DialConfig(c.config.URL(), amqpConfig)
		return err
	}

	err := backoff.RetryNotify(op, c.connectBackOff(), func(err error, wait time.Duration) {
		c.logger.Warn("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", wait),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempt, err)
	}
	return conn, nil
}

// declareTopology declares the job exchange and queue, plus the
// dead-letter pair when configured
func (c *Client) declareTopology(ch *amqp.Channel) error {
	cfg := c.config

	if cfg.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(cfg.deadLetterQueue(), true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(cfg.deadLetterQueue(), "", cfg.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead-letter queue: %w", err)
		}
	}

	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.ExchangeType, cfg.ExchangeDurable, cfg.ExchangeAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.QueueName, cfg.QueueDurable, cfg.QueueAutoDelete, cfg.QueueExclusive, false, cfg.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// watchClose marks the client disconnected when the broker closes the channel.
// The consumer's delivery channel closes at the same time, which ends the
// worker's dispatcher.
func (c *Client) watchClose(closed <-chan *amqp.Error) {
	if amqpErr, ok := <-closed; ok && amqpErr != nil {
		c.logger.Error("RabbitMQ channel closed by broker",
			slog.Int("code", amqpErr.Code),
			slog.String("reason", amqpErr.Reason),
		)
	}
	c.connected.Store(false)
}

// PublishWithRetry publishes a persistent message, backing off between
// failed attempts until PublishRetries is exhausted or ctx ends
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if !c.connected.Load() {
		return errNotConnected
	}

	attempt := 0
	op := func() error {
		attempt++
		return c.publish(ctx, body, contentType)
	}

	err := backoff.RetryNotify(op, c.publishBackOff(ctx), func(err error, wait time.Duration) {
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", wait),
			slog.Any("error", err),
		)
	})
	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish message after %d attempts: %w", attempt, err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("attempts", attempt),
		slog.Int("body_size", len(body)),
	)
	return nil
}

func (c *Client) publish(ctx context.Context, body []byte, contentType string) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	return c.channel.PublishWithContext(ctx, c.config.ExchangeName, c.config.RoutingKey, false, false,
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Consume subscribes to the queue with manual acks. prefetch bounds the
// unacknowledged deliveries held by this consumer; zero leaves it unlimited.
func (c *Client) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if !c.connected.Load() {
		return nil, errNotConnected
	}

	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	deliveries, err := c.channel.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch", prefetch),
	)
	return deliveries, nil
}

// IsConnected reports whether the channel is still usable
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channel, then the connection
func (c *Client) Close() error {
	c.connected.Store(false)

	var errs []error
	if c.channel != nil {
		errs = append(errs, c.channel.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Error("Failed to close RabbitMQ cleanly", slog.Any("error", err))
		return err
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// connectBackOff retries at a fixed interval up to RetryAttempts dials
func (c *Client) connectBackOff() backoff.BackOff {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := c.config.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1))
}

// publishBackOff multiplies the delay by PublishBackoffMult after each attempt
func (c *Client) publishBackOff(ctx context.Context) backoff.BackOff {
	retries := c.config.PublishRetries
	if retries <= 0 {
		retries = 3
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.PublishRetryDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.Multiplier = c.config.PublishBackoffMult
	if b.Multiplier <= 0 {
		b.Multiplier = 2.0
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
