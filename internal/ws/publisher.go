package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiwari-pos/tableorder/internal/service"
)

// EventOrderSubmitted is sent to staff dashboards when a table order lands.
const EventOrderSubmitted = "order.submitted"

// Publisher pushes submitted orders to the business room of the hub.
// Satisfies service.EventPublisher.
type Publisher struct {
	hub *Hub
}

func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

func (p *Publisher) PublishSubmitted(ctx context.Context, ev service.SubmittedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.hub.BroadcastToBusiness(ev.BusinessID, Event{Type: EventOrderSubmitted, Payload: payload})
	return nil
}
