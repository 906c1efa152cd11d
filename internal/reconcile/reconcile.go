// Package reconcile finds users that never got an employee record and can
// re-announce them.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"usersync/pkg/models"
)

// UserSource is implemented by *users.Repository.
type UserSource interface {
	ListAll(ctx context.Context) ([]models.User, error)
}

// EmployeeIndex is implemented by *employee.SQLRepository.
type EmployeeIndex interface {
	UserIDs(ctx context.Context) (map[string]bool, error)
}

// EventPublisher is implemented by *users.EventPublisher.
type EventPublisher interface {
	PublishUserCreated(ctx context.Context, event models.UserCreatedEvent, correlationID string) error
}

// Report describes the drift between the two stores.
type Report struct {
	Users     int
	Employees int
	Missing   []models.UserCreatedEvent
}

// Reconciler compares the user and employee stores.
type Reconciler struct {
	users     UserSource
	employees EmployeeIndex
	log       *zap.Logger
}

// New creates a Reconciler comparing users against employees.
func New(users UserSource, employees EmployeeIndex, log *zap.Logger) *Reconciler {
	return &Reconciler{users: users, employees: employees, log: log.With(zap.String("component", "reconcile"))}
}

// Drift lists every user without a matching employee, oldest first.
func (r *Reconciler) Drift(ctx context.Context) (Report, error) {
	all, err := r.users.ListAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load users: %w", err)
	}
	synced, err := r.employees.UserIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load employees: %w", err)
	}

	report := Report{Users: len(all), Employees: len(synced)}
	for _, u := range all {
		if !synced[u.ID] {
			report.Missing = append(report.Missing, models.NewUserCreatedEvent(u))
		}
	}
	r.log.Info("drift computed", zap.Int("users", report.Users), zap.Int("employees", report.Employees),
		zap.Int("missing", len(report.Missing)))
	return report, nil
}

// Republish re-sends user.created for each missing user. The consumer is
// idempotent, so re-sending an event that is merely in flight is harmless.
// Every event is attempted; failures are returned joined.
func (r *Reconciler) Republish(ctx context.Context, pub EventPublisher, missing []models.UserCreatedEvent, correlationID string) (int, error) {
	sent := 0
	var errs []error
	for _, event := range missing {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := pub.PublishUserCreated(ctx, event, correlationID); err != nil {
			r.log.Warn("republish failed", zap.String("user_id", event.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("user %s: %w", event.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
