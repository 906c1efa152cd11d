package users

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"usersync/pkg/metrics"
)

// Forwarder is implemented by *EventPublisher.
type Forwarder interface {
	Forward(ctx context.Context, queue, eventType string, body []byte, correlationID string) error
}

// Relay moves outbox rows to the broker in insertion order.
type Relay struct {
	outbox    *OutboxRepository
	forwarder Forwarder
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

// NewRelay creates a relay that flushes up to batchSize rows every interval.
func NewRelay(outbox *OutboxRepository, forwarder Forwarder, interval time.Duration, batchSize int, log *zap.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{
		outbox:    outbox,
		forwarder: forwarder,
		interval:  interval,
		batchSize: batchSize,
		log:       log.With(zap.String("component", "outbox-relay")),
	}
}

// Run flushes the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch_size", r.batchSize))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("outbox flush incomplete", zap.Error(err))
			}
			if _, err := r.ReportBacklog(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("failed to count pending outbox events", zap.Error(err))
			}
		}
	}
}

// ReportBacklog counts the rows still waiting for the relay and publishes the
// number as the usersync_outbox_pending gauge.
func (r *Relay) ReportBacklog(ctx context.Context) (int, error) {
	n, err := r.outbox.CountPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending outbox events: %w", err)
	}
	metrics.SetOutboxPending(n)
	return n, nil
}

// Flush forwards one batch and returns how many events were published. It
// stops at the first publish failure so later events never overtake an
// earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	tx, err := r.outbox.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox transaction: %w", err)
	}
	defer tx.Rollback()

	events, err := r.outbox.ClaimBatch(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	var publishErr error
	for _, e := range events {
		err := r.forwarder.Forward(ctx, e.Queue, e.EventType, e.Payload, e.CorrelationID)
		metrics.ObserveOutboxRelay(err)
		if err != nil {
			publishErr = fmt.Errorf("relay outbox event %s: %w", e.EventID, err)
			if markErr := r.outbox.MarkFailed(ctx, tx, e.ID, err.Error()); markErr != nil {
				return published, markErr
			}
			break
		}
		if err := r.outbox.MarkPublished(ctx, tx, e.ID); err != nil {
			return published, fmt.Errorf("mark outbox event %s published: %w", e.EventID, err)
		}
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox transaction: %w", err)
	}
	if published > 0 {
		r.log.Info("outbox events relayed", zap.Int("count", published))
	}
	return published, publishErr
}
