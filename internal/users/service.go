// Package users owns user accounts and emits the event that drives employee
// synchronisation.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"usersync/pkg/config"
	"usersync/pkg/middleware"
	"usersync/pkg/models"
)

var (
	ErrEmailTaken    = errors.New("email already registered")
	ErrUsernameTaken = errors.New("username already taken")
	ErrNotFound      = errors.New("user not found")
	// ErrEventNotPublished means the user was stored but the user.created
	// event did not reach the broker.
	ErrEventNotPublished = errors.New("user created but event not published")
)

// UserEventPublisher is implemented by *EventPublisher.
type UserEventPublisher interface {
	PublishUserCreated(ctx context.Context, event models.UserCreatedEvent, correlationID string) error
}

// Service implements the user commands and queries.
type Service struct {
	DB       *sql.DB
	Users    *Repository
	Outbox   *OutboxRepository
	Events   UserEventPublisher
	Mode     string
	Queue    string
	HashCost int

	log *zap.Logger
}

// NewService wires a Service. mode is config.PublishModeDirect or
// config.PublishModeOutbox; queue is where outbox rows are addressed.
func NewService(db *sql.DB, events UserEventPublisher, mode, queue string, log *zap.Logger) *Service {
	return &Service{
		DB:       db,
		Users:    NewRepository(db),
		Outbox:   NewOutboxRepository(db),
		Events:   events,
		Mode:     mode,
		Queue:    queue,
		HashCost: bcrypt.DefaultCost,
		log:      log.With(zap.String("component", "user-service")),
	}
}

// CreateUser stores a new account and announces it. In direct mode the
// event is published after the insert commits; a publish failure returns the
// created user together with ErrEventNotPublished. In outbox mode the event
// is written in the same transaction and relayed later.
func (s *Service) CreateUser(ctx context.Context, req models.CreateUserRequest) (models.User, error) {
	correlationID := middleware.CorrelationIDFromContext(ctx)
	log := s.log.With(zap.String("correlation_id", correlationID))

	if exists, err := s.Users.EmailExists(ctx, req.Email); err != nil {
		return models.User{}, fmt.Errorf("check email: %w", err)
	} else if exists {
		return models.User{}, ErrEmailTaken
	}
	if exists, err := s.Users.UsernameExists(ctx, req.Username); err != nil {
		return models.User{}, fmt.Errorf("check username: %w", err)
	} else if exists {
		return models.User{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.HashCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	event := models.NewUserCreatedEvent(user)

	if s.Mode == config.PublishModeOutbox {
		if err := s.createWithOutbox(ctx, user, event, correlationID); err != nil {
			return models.User{}, err
		}
		log.Info("user created, event queued in outbox", zap.String("user_id", user.ID))
		return user, nil
	}

	if err := s.Users.Insert(ctx, s.DB, user); err != nil {
		return models.User{}, err
	}
	log.Info("user created", zap.String("user_id", user.ID), zap.String("email", user.Email))

	if err := s.Events.PublishUserCreated(ctx, event, correlationID); err != nil {
		log.Error("user stored but event publish failed", zap.String("user_id", user.ID), zap.Error(err))
		return user, fmt.Errorf("%w: %w", ErrEventNotPublished, err)
	}
	return user, nil
}

func (s *Service) createWithOutbox(ctx context.Context, user models.User, event models.UserCreatedEvent, correlationID string) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode user event: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.Users.Insert(ctx, tx, user); err != nil {
		return err
	}
	if err := s.Outbox.Insert(ctx, tx, OutboxEvent{
		EventID:       uuid.NewString(),
		Queue:         s.Queue,
		EventType:     string(models.EventUserCreated),
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     user.CreatedAt,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user: %w", err)
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.Users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.Users.List(ctx, limit, offset)
}
