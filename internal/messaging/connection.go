// Package messaging publishes draft order events to RabbitMQ.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// OrdersExchange is the topic exchange submitted orders are published to.
const OrdersExchange = "orders_topic"

const maxDialAttempts = 5

// Connection owns one RabbitMQ connection and channel and redials on demand.
// sem guards conn and channel; waiting on it honours the caller's context.
type Connection struct {
	url string
	log *zap.Logger

	sem     chan struct{}
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Dial connects to url, retrying with a growing backoff, and declares the
// orders exchange.
func Dial(ctx context.Context, url string, log *zap.Logger) (*Connection, error) {
	c := &Connection{url: url, log: log, sem: make(chan struct{}, 1)}
	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("establish initial connection: %w", err)
	}
	return c, nil
}

func (c *Connection) lock(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) unlock() { <-c.sem }

// connect dials and declares topology, giving up when ctx is done. Callers
// hold sem, or own c exclusively.
func (c *Connection) connect(ctx context.Context) error {
	var err error
	for i := 0; i < maxDialAttempts; i++ {
		if ctx.Err() != nil {
			return fmt.Errorf("connect to rabbitmq: %w", ctx.Err())
		}
		if err = c.open(); err == nil {
			return nil
		}
		if i < maxDialAttempts-1 {
			wait := time.Duration(i+1) * 2 * time.Second
			c.log.Warn("rabbitmq connection failed, retrying", zap.Duration("wait", wait), zap.Error(err))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
		}
	}
	return fmt.Errorf("connect to rabbitmq after %d attempts: %w", maxDialAttempts, err)
}

func (c *Connection) open() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	err = ch.ExchangeDeclare(
		OrdersExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare %s exchange: %w", OrdersExchange, err)
	}
	c.conn, c.channel = conn, ch
	return nil
}

// Channel returns a live channel, reconnecting if the connection dropped.
// Waiting for another reconnect and the reconnect itself stop when ctx is done.
func (c *Connection) Channel(ctx context.Context) (Channel, error) {
	if err := c.lock(ctx); err != nil {
		return nil, fmt.Errorf("wait for channel: %w", err)
	}
	defer c.unlock()
	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		c.close()
		if err := c.connect(ctx); err != nil {
			return nil, fmt.Errorf("reconnect: %w", err)
		}
	}
	return c.channel, nil
}

func (c *Connection) Close() error {
	c.lock(context.Background())
	defer c.unlock()
	return c.close()
}

func (c *Connection) close() error {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && err != amqp091.ErrClosed {
			return err
		}
	}
	return nil
}
