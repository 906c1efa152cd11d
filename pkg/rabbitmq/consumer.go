package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"usersync/pkg/metrics"
)

// ErrPoisonMessage marks a delivery that can never be processed, such as an
// undecodable body. Handlers wrap it; the consumer drops such messages (or
// dead-letters them when a DLQ is configured) instead of requeueing.
var ErrPoisonMessage = errors.New("rabbitmq: poison message")

var errDeliveriesClosed = errors.New("rabbitmq: delivery stream closed")

// AckMode selects when a delivery is acknowledged.
type AckMode int

const (
	// AckAfterProcess acks only once the handler has returned successfully.
	AckAfterProcess AckMode = iota
	// AckBeforeProcess lets the broker consider a message delivered as soon as
	// it is sent (auto-ack). A handler failure then loses the message.
	AckBeforeProcess
)

// ParseAckMode maps "after"/"before" to an AckMode.
func ParseAckMode(s string) (AckMode, error) {
	switch s {
	case "", "after":
		return AckAfterProcess, nil
	case "before":
		return AckBeforeProcess, nil
	default:
		return AckAfterProcess, fmt.Errorf("rabbitmq: unknown ack mode %q", s)
	}
}

func (m AckMode) String() string {
	if m == AckBeforeProcess {
		return "before"
	}
	return "after"
}

// ConsumerState is the lifecycle phase of a Consumer.
type ConsumerState int32

const (
	// StateStopped: Run has not been called or has returned.
	StateStopped ConsumerState = iota
	// StateStarting: opening a channel and registering the subscription.
	StateStarting
	// StateConsuming: deliveries are being received.
	StateConsuming
)

func (s ConsumerState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConsuming:
		return "consuming"
	default:
		return "stopped"
	}
}

// ConsumerConfig holds configuration for setting up a consumer.
type ConsumerConfig struct {
	Queue        QueueConfig
	ConsumerName string
	AckMode      AckMode
	Prefetch     int
	RestartDelay time.Duration
	RequeueDelay time.Duration
}

// MessageHandler processes one delivery. Returning nil acks it; returning an
// error nacks it (see Consumer for the exact policy).
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer is a single sequential subscriber on one queue. Run keeps the
// subscription alive across channel and connection failures until its context
// is cancelled.
type Consumer struct {
	conn    ChannelOpener
	cfg     ConsumerConfig
	handler MessageHandler
	log     *zap.Logger
	state   atomic.Int32
	running atomic.Bool
}

// NewConsumer creates a consumer for cfg.Queue. Prefetch defaults to 1 and
// RestartDelay to 5s.
func NewConsumer(conn ChannelOpener, cfg ConsumerConfig, handler MessageHandler, log *zap.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	return &Consumer{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		log: log.With(zap.String("component", "consumer"), zap.String("consumer", cfg.ConsumerName),
			zap.String("queue", cfg.Queue.Name)),
	}
}

// State reports the current lifecycle phase.
func (c *Consumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

func (c *Consumer) setState(s ConsumerState) {
	c.state.Store(int32(s))
}

// Run subscribes and processes deliveries until ctx is cancelled. A lost
// subscription is re-established after RestartDelay. Run returns nil on
// cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("rabbitmq: consumer already running")
	}
	defer c.running.Store(false)
	defer c.setState(StateStopped)

	c.log.Info("consumer starting", zap.String("ack_mode", c.cfg.AckMode.String()))
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}
		c.log.Warn("subscription ended, restarting", zap.Error(err), zap.Duration("restart_in", c.cfg.RestartDelay))

		c.setState(StateStarting)
		if !sleep(ctx, c.cfg.RestartDelay) {
			c.log.Info("consumer stopped")
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	c.setState(StateStarting)

	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer closeQuietly(ch)

	if err := DeclareQueue(ch, c.cfg.Queue); err != nil {
		return err
	}

	autoAck := c.cfg.AckMode == AckBeforeProcess
	if !autoAck {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := ch.ConsumeWithContext(
		ctx,
		c.cfg.Queue.Name,
		c.cfg.ConsumerName,
		autoAck,
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.setState(StateConsuming)
	c.log.Info("consumer started, listening on queue")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("channel closed: %w", amqpErr)
			}
			return errDeliveriesClosed
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.dispatch(ctx, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	log := c.log.With(zap.Uint64("delivery_tag", d.DeliveryTag), zap.String("message_id", d.MessageId),
		zap.String("correlation_id", d.CorrelationId), zap.Bool("redelivered", d.Redelivered))

	err := c.invoke(ctx, d)

	if c.cfg.AckMode == AckBeforeProcess {
		if err != nil {
			metrics.ObserveDelivery(c.cfg.Queue.Name, "lost")
			log.Error("message already acknowledged, handler failure is permanent", zap.Error(err))
			return
		}
		metrics.ObserveDelivery(c.cfg.Queue.Name, "processed")
		return
	}

	switch {
	case err == nil:
		metrics.ObserveDelivery(c.cfg.Queue.Name, "processed")
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
	case c.cfg.Queue.DeadLetterQueue != "":
		metrics.ObserveDelivery(c.cfg.Queue.Name, "dead_lettered")
		log.Error("error processing message, sending to dead-letter queue", zap.Error(err),
			zap.String("dead_letter_queue", c.cfg.Queue.DeadLetterQueue))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("nack failed", zap.Error(nackErr))
		}
	case errors.Is(err, ErrPoisonMessage):
		metrics.ObserveDelivery(c.cfg.Queue.Name, "dropped")
		log.Error("dropping unprocessable message", zap.Error(err))
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("ack failed", zap.Error(ackErr))
		}
	default:
		metrics.ObserveDelivery(c.cfg.Queue.Name, "requeued")
		log.Warn("error processing message, requeueing", zap.Error(err), zap.Duration("requeue_in", c.cfg.RequeueDelay))
		sleep(ctx, c.cfg.RequeueDelay)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("nack failed", zap.Error(nackErr))
		}
	}
}

func (c *Consumer) invoke(ctx context.Context, d amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, d)
}

// sleep waits for d or until ctx is done; it reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
