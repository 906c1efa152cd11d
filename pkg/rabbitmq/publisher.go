package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"usersync/pkg/metrics"
)

// Publisher sends messages to durable queues through the default exchange.
// Every publish runs on its own short-lived channel and no broker confirm is
// awaited.
type Publisher struct {
	conn    ChannelOpener
	queue   QueueConfig
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	declared map[string]bool
}

// NewPublisher declares the default queue and returns a publisher bound to it.
func NewPublisher(conn ChannelOpener, queue QueueConfig, timeout time.Duration, log *zap.Logger) (*Publisher, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &Publisher{
		conn:     conn,
		queue:    queue,
		timeout:  timeout,
		log:      log.With(zap.String("component", "publisher")),
		declared: make(map[string]bool),
	}

	ch, err := conn.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel for declare: %w", err)
	}
	defer closeQuietly(ch)

	if err := DeclareQueue(ch, queue); err != nil {
		return nil, err
	}
	p.declared[queue.Name] = true
	return p, nil
}

// Queue returns the default queue name.
func (p *Publisher) Queue() string {
	return p.queue.Name
}

// Publish sends body to the default queue.
func (p *Publisher) Publish(ctx context.Context, messageType string, body []byte, correlationID string) error {
	return p.PublishTo(ctx, p.queue.Name, messageType, body, correlationID)
}

// PublishTo sends body to the named queue, declaring it on first use.
func (p *Publisher) PublishTo(ctx context.Context, queue, messageType string, body []byte, correlationID string) error {
	err := p.publish(ctx, queue, messageType, body, correlationID)
	metrics.ObservePublish(queue, err)
	if err != nil {
		p.log.Error("publish failed", zap.String("queue", queue), zap.String("correlation_id", correlationID), zap.Error(err))
		return err
	}
	p.log.Info("message published", zap.String("queue", queue), zap.String("type", messageType),
		zap.String("correlation_id", correlationID))
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue, messageType string, body []byte, correlationID string) error {
	ch, err := p.conn.OpenChannel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open publish channel: %w", err)
	}
	defer closeQuietly(ch)

	if err := p.ensureDeclared(ch, queue); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = ch.PublishWithContext(
		ctx,
		"",    // default exchange routes by queue name
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:     "application/json",
			ContentEncoding: "utf-8",
			Type:            messageType,
			MessageId:       uuid.NewString(),
			CorrelationId:   correlationID,
			Body:            body,
			DeliveryMode:    amqp.Persistent,
			Timestamp:       time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish to %s: %w", queue, err)
	}
	return nil
}

func (p *Publisher) ensureDeclared(ch Channel, queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[queue] {
		return nil
	}
	if err := DeclareQueue(ch, QueueConfig{Name: queue}); err != nil {
		return err
	}
	p.declared[queue] = true
	return nil
}
