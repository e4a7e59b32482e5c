package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sendcore/engine/internal/domain"
)

// QueueRepository implements domain.QueueRepository against the
// deferred_queue table.
type QueueRepository struct {
	db *sql.DB
}

// NewQueueRepository wires a QueueRepository.
func NewQueueRepository(db *sql.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) Create(ctx context.Context, e *domain.QueueEntry) error {
	data, err := json.Marshal(e.RecipientData)
	if err != nil {
		return fmt.Errorf("postgres: marshal recipient data: %w", err)
	}

	query, args, err := psql.Insert("deferred_queue").
		Columns("id", "campaign_id", "recipient_email", "recipient_data",
			"scheduled_for", "status", "created_at").
		Values(e.ID, e.CampaignID, e.RecipientEmail, data,
			e.ScheduledFor, e.Status, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build Create queue entry query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: Create queue entry: %w", err)
	}
	return nil
}

// ListPending returns pending entries due at or before asOf, locking
// each row FOR UPDATE SKIP LOCKED so concurrent drain passes never pick
// up the same entry twice.
func (r *QueueRepository) ListPending(ctx context.Context, asOf time.Time) ([]*domain.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, recipient_email, recipient_data,
		       scheduled_for, status, created_at
		FROM deferred_queue
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListPending: %w", err)
	}
	defer rows.Close()

	var out []*domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *QueueRepository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deferred_queue SET status = $2 WHERE id = $1`, id, domain.QueueEntryStatusSent)
	if err != nil {
		return fmt.Errorf("postgres: MarkSent: %w", err)
	}
	return nil
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deferred_queue SET status = $2 WHERE id = $1`, id, domain.QueueEntryStatusFailed)
	if err != nil {
		return fmt.Errorf("postgres: MarkFailed: %w", err)
	}
	return nil
}

func scanQueueEntry(s scanner) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	var data []byte
	if err := s.Scan(
		&e.ID, &e.CampaignID, &e.RecipientEmail, &data,
		&e.ScheduledFor, &e.Status, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.RecipientData); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal recipient data: %w", err)
		}
	}
	return &e, nil
}
