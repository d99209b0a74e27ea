package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// Channel is the part of *amqp091.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publisher sends order events to the orders exchange.
// Satisfies service.EventPublisher.
type Publisher struct {
	channel func(context.Context) (Channel, error)
	log     *zap.Logger
	now     func() time.Time
}

func NewPublisher(conn *Connection, log *zap.Logger) *Publisher {
	return &Publisher{channel: conn.Channel, log: log, now: time.Now}
}

// RoutingKey is order.submitted.created or order.submitted.updated.
func RoutingKey(ev service.SubmittedEvent) string {
	if ev.Created {
		return "order.submitted.created"
	}
	return "order.submitted.updated"
}

func (p *Publisher) PublishSubmitted(ctx context.Context, ev service.SubmittedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	key := RoutingKey(ev)
	err = ch.PublishWithContext(ctx, OrdersExchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.OrderID,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		p.log.Error("publish failed", zap.String("exchange", OrdersExchange), zap.String("routing_key", key), zap.Error(err))
		return fmt.Errorf("publish %s: %w", key, err)
	}

	p.log.Debug("message published",
		zap.String("exchange", OrdersExchange),
		zap.String("routing_key", key),
		zap.Int("message_size", len(body)),
	)
	return nil
}
