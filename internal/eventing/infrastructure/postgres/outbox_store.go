package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealerpay/internal/eventing"
)

const defaultOutboxTable = "dealer_event_outbox"

// OutboxStore is a Postgres implementation for outbox records.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Insert writes an envelope to the outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	event_id,
	event_type,
	tenant_id,
	station_id,
	payload,
	status,
	attempts,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, 'pending', 0, $7
)
ON CONFLICT (id)
DO NOTHING`, s.table)

	_, err = s.db.ExecContext(ctx, query,
		outboxID, env.EventID, env.EventType, env.TenantID, env.StationID, payload, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending returns pending outbox records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, payload
FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []eventing.OutboxRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		records = append(records, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	return records, rows.Err()
}

// MarkSent flips a record to sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, "sent")
}

// MarkFailed flips a record to failed and counts the attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.markStatus(ctx, id, "failed")
}

func (s *OutboxStore) markStatus(ctx context.Context, id, status string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	if id == "" {
		return errors.New("outbox store: empty id")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, attempts = attempts + 1, updated_at = $3
WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	return err
}
