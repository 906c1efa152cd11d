package users

import (
	"context"
	"fmt"

	"usersync/pkg/models"
)

// MessagePublisher is satisfied by *rabbitmq.Publisher.
type MessagePublisher interface {
	Publish(ctx context.Context, messageType string, body []byte, correlationID string) error
	PublishTo(ctx context.Context, queue, messageType string, body []byte, correlationID string) error
	Queue() string
}

// EventPublisher announces user lifecycle events on the broker.
type EventPublisher struct {
	pub MessagePublisher
}

// NewEventPublisher wraps pub for user events.
func NewEventPublisher(pub MessagePublisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

// PublishUserCreated serializes event and sends it to the configured queue.
func (p *EventPublisher) PublishUserCreated(ctx context.Context, event models.UserCreatedEvent, correlationID string) error {
	body, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode user event: %w", err)
	}
	return p.pub.Publish(ctx, string(models.EventUserCreated), body, correlationID)
}

// Forward re-sends an already encoded event to queue. The outbox relay uses it.
func (p *EventPublisher) Forward(ctx context.Context, queue, eventType string, body []byte, correlationID string) error {
	return p.pub.PublishTo(ctx, queue, eventType, body, correlationID)
}

// Queue returns the default destination queue.
func (p *EventPublisher) Queue() string {
	return p.pub.Queue()
}
