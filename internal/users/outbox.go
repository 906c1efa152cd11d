package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OutboxEvent is an event persisted with the user row, waiting to be relayed.
type OutboxEvent struct {
	ID            int64
	EventID       string
	Queue         string
	EventType     string
	Payload       []byte
	CorrelationID string
	Attempts      int
	LastError     sql.NullString
	CreatedAt     time.Time
	PublishedAt   sql.NullTime
}

// OutboxRepository reads and writes outbox_events.
type OutboxRepository struct {
	DB *sql.DB
}

// NewOutboxRepository creates an OutboxRepository on db.
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{DB: db}
}

const outboxColumns = "id, event_id, queue, event_type, payload, correlation_id, attempts, last_error, created_at, published_at"

// Insert stores e through db, normally the transaction that wrote the user.
func (r *OutboxRepository) Insert(ctx context.Context, db DBTX, e OutboxEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO outbox_events (event_id, queue, event_type, payload, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.EventID, e.Queue, e.EventType, e.Payload, e.CorrelationID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// ClaimBatch locks up to limit unpublished events in insertion order. Rows
// locked by another relay are skipped. The locks last until tx ends.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, tx *sql.Tx, limit int) ([]OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+outboxColumns+`
		 FROM outbox_events
		 WHERE published_at IS NULL
		 ORDER BY id ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.Queue, &e.EventType, &e.Payload, &e.CorrelationID,
			&e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkPublished stamps published_at on the row inside tx.
func (r *OutboxRepository) MarkPublished(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE outbox_events SET published_at = NOW(), attempts = attempts + 1, last_error = NULL WHERE id = $1", id)
	return err
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, tx *sql.Tx, id int64, cause string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1", id, cause)
	return err
}

// CountPending reports how many events still wait for the relay.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL").Scan(&n)
	return n, err
}
