// Package amqp carries document change events over RabbitMQ.
//
// Changes are published to a durable direct exchange with the collection name
// as routing key. Every queue bound to that key receives a copy: each web
// instance declares its own exclusive queue for live feeds, and the export
// worker shares one durable named queue.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"spendly/internal/events"
	"spendly/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Options selects the queue a client consumes from.
type Options struct {
	Exchange string
	// Queue is the durable queue name. Empty means a server-named exclusive
	// queue that disappears with the connection.
	Queue string
	// BindingKeys are the collections whose changes the queue receives.
	BindingKeys []string
}

type Client struct {
	url          string
	exchangeName string
	queueName    string
	boundQueue   string
	bindingKeys  []string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

// NewClient dials the broker and declares exchange, queue and bindings.
func NewClient(url string, opts Options, logger *log.Logger) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: opts.Exchange,
		queueName:    opts.Queue,
		bindingKeys:  opts.BindingKeys,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if len(c.bindingKeys) == 0 {
		c.bindingKeys = []string{"expenses"}
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	c.conn, c.channel = conn, channel

	if err := c.setup(); err != nil {
		c.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	durable := c.queueName != ""
	q, err := c.channel.QueueDeclare(
		c.queueName, // name, empty for server-named
		durable,     // durable
		!durable,    // delete when unused
		!durable,    // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range c.bindingKeys {
		if err := c.channel.QueueBind(q.Name, key, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue to %s: %w", key, err)
		}
	}
	c.boundQueue = q.Name
	return nil
}

// Publish sends a persistent JSON change routed by its collection.
func (c *Client) Publish(ctx context.Context, change events.Change) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish change: %w", ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := change.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.mu.Lock()
	err = c.connectLocked()
	if err == nil {
		err = c.channel.PublishWithContext(
			ctx,
			c.exchangeName,    // exchange
			change.Collection, // routing key
			false,             // mandatory
			false,             // immediate
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
	}
	c.mu.Unlock()

	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish change: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published change",
		log.FieldCollection, change.Collection,
		log.FieldDocumentID, change.DocumentID,
		"op", change.Op)
	return nil
}

// Subscribe consumes changes with manual acknowledgement until ctx is done.
// Undecodable messages are dropped; handler failures are requeued. A lost
// connection is re-established with exponential backoff.
func (c *Client) Subscribe(ctx context.Context, handler events.Handler) error {
	attempt := 0
	for {
		deliveries, err := c.consume()
		if err != nil {
			if !isConnectionError(err) && attempt == 0 {
				return err
			}
			wait := exponentialBackoff(attempt)
			attempt++
			c.logger.WarnContext(ctx, "AMQP consume unavailable, retrying",
				log.FieldError, err, "retry_in", wait.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}
		attempt = 0

		c.logger.InfoContext(ctx, "Started consuming changes", "queue", c.currentQueue())
		if err := c.drain(ctx, deliveries, handler); err != nil {
			return err
		}
		c.logger.WarnContext(ctx, "AMQP delivery channel closed, reconnecting")
	}
}

func (c *Client) consume() (<-chan amqp091.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c.channel.Consume(
		c.boundQueue, // queue
		"",           // consumer
		false,        // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
}

// drain returns nil when the delivery channel closes so the caller can reconnect.
func (c *Client) drain(ctx context.Context, deliveries <-chan amqp091.Delivery, handler events.Handler) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping change consumption", "reason", ctx.Err())
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler events.Handler) {
	change, err := events.ChangeFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to decode change", log.FieldError, err)
		_ = d.Nack(false, false) // drop
		return
	}

	if err := handler(ctx, change); err != nil {
		c.logger.ErrorContext(ctx, "Failed to handle change",
			log.FieldOperation, log.OpConsume,
			log.FieldCollection, change.Collection,
			log.FieldDocumentID, change.DocumentID,
			log.FieldError, err)
		_ = d.Nack(false, true) // requeue
		return
	}
	_ = d.Ack(false)
}

func (c *Client) currentQueue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundQueue
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()

	n := atomic.AddInt64(&c.failureCount, 1)
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", n)
		}
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "dial", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

var _ events.Bus = (*Client)(nil)
