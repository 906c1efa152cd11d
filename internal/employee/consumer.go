package employee

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"usersync/pkg/metrics"
	"usersync/pkg/models"
	"usersync/pkg/rabbitmq"
)

// Consumer turns user.created events into employee records.
type Consumer struct {
	repo  Repository
	log   *zap.Logger
	newID func() string
}

// NewConsumer creates a new employee consumer.
func NewConsumer(repo Repository, log *zap.Logger) *Consumer {
	return &Consumer{
		repo:  repo,
		log:   log.With(zap.String("component", "employee-consumer")),
		newID: uuid.NewString,
	}
}

// HandleMessage is a rabbitmq.MessageHandler. Undecodable payloads are
// reported as rabbitmq.ErrPoisonMessage; store failures are returned as is.
func (c *Consumer) HandleMessage(ctx context.Context, delivery amqp.Delivery) error {
	event, err := models.DecodeUserCreatedEvent(delivery.Body)
	if err != nil {
		c.log.Error("failed to decode user event",
			zap.Error(err),
			zap.String("correlation_id", delivery.CorrelationId),
			zap.ByteString("body", truncate(delivery.Body, 256)))
		return fmt.Errorf("%w: %v", rabbitmq.ErrPoisonMessage, err)
	}

	_, err = c.Sync(ctx, event, delivery.CorrelationId)
	return err
}

// Sync creates the employee for event unless one already exists for the
// user. It reports whether a record was created.
func (c *Consumer) Sync(ctx context.Context, event models.UserCreatedEvent, correlationID string) (bool, error) {
	log := c.log.With(zap.String("user_id", event.ID), zap.String("correlation_id", correlationID))
	log.Info("processing user created event")

	existing, err := c.repo.FindByUserID(ctx, event.ID)
	if err != nil {
		log.Error("error checking for existing employee", zap.Error(err))
		return false, err
	}
	if existing != nil {
		metrics.IncDuplicateSkipped()
		log.Info("employee already exists for user, skipping", zap.String("employee_id", existing.ID))
		return false, nil
	}

	employee, err := c.repo.Insert(ctx, NewEmployeeFromEvent(event, c.newID()))
	if errors.Is(err, ErrDuplicateUser) {
		// Another consumer inserted between our lookup and insert.
		metrics.IncDuplicateSkipped()
		log.Info("employee created concurrently for user, skipping")
		return false, nil
	}
	if err != nil {
		log.Error("error creating employee", zap.Error(err))
		return false, err
	}

	metrics.IncEmployeeCreated()
	log.Info("employee created", zap.String("employee_id", employee.ID), zap.String("email", employee.Email))
	return true, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
