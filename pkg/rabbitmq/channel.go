package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by publishers and consumers.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// ChannelOpener hands out fresh channels. *Connection is the production
// implementation.
type ChannelOpener interface {
	OpenChannel() (Channel, error)
}

// QueueConfig names a durable queue and, optionally, the queue that
// rejected messages are dead-lettered to.
type QueueConfig struct {
	Name            string
	DeadLetterQueue string
}

// DeclareQueue declares the queue (and its dead-letter queue) as durable.
// Declaring an existing queue with identical arguments is a no-op, so every
// publisher and consumer calls this with the same QueueConfig.
func DeclareQueue(ch Channel, q QueueConfig) error {
	var args amqp.Table
	if q.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(q.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter queue %s: %w", q.DeadLetterQueue, err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.DeadLetterQueue,
		}
	}

	if _, err := ch.QueueDeclare(
		q.Name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		args,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.Name, err)
	}
	return nil
}

func closeQuietly(ch Channel) {
	if ch != nil {
		_ = ch.Close()
	}
}
