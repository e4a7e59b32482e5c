package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sendcore/engine/internal/domain"
)

// SequenceRepository implements domain.SequenceRepository against the
// sequence_steps and sequence_enrollments tables.
type SequenceRepository struct {
	db *sql.DB
}

// NewSequenceRepository wires a SequenceRepository.
func NewSequenceRepository(db *sql.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

func (r *SequenceRepository) ListDueEnrollments(ctx context.Context, asOf time.Time) ([]*domain.SequenceEnrollment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sequence_id, recipient_email, recipient_data, current_step,
		       status, next_send_at, completed_at
		FROM sequence_enrollments
		WHERE status = $1 AND (next_send_at IS NULL OR next_send_at <= $2)
	`, domain.SequenceEnrollmentActive, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListDueEnrollments: %w", err)
	}
	defer rows.Close()

	var out []*domain.SequenceEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SequenceRepository) GetStep(ctx context.Context, sequenceID string, order int) (*domain.SequenceStep, error) {
	var s domain.SequenceStep
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sequence_id, step_order, template_ref, subject, delay_days,
		       delay_hours, send_time
		FROM sequence_steps WHERE sequence_id = $1 AND step_order = $2
	`, sequenceID, order).Scan(
		&s.ID, &s.SequenceID, &s.Order, &s.TemplateRef, &s.Subject,
		&s.DelayDays, &s.DelayHours, &s.SendTime,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: GetStep: %w", err)
	}
	return &s, nil
}

func (r *SequenceRepository) AdvanceEnrollment(ctx context.Context, enrollmentID string, nextStep int, nextSendAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET current_step = $2, next_send_at = $3 WHERE id = $1
	`, enrollmentID, nextStep, nextSendAt)
	if err != nil {
		return fmt.Errorf("postgres: AdvanceEnrollment: %w", err)
	}
	return nil
}

func (r *SequenceRepository) CompleteEnrollment(ctx context.Context, enrollmentID string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sequence_enrollments SET status = $2, completed_at = $3 WHERE id = $1
	`, enrollmentID, domain.SequenceEnrollmentCompleted, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: CompleteEnrollment: %w", err)
	}
	return nil
}

func scanEnrollment(s scanner) (*domain.SequenceEnrollment, error) {
	var e domain.SequenceEnrollment
	var data []byte
	var nextSendAt, completedAt sql.NullTime
	if err := s.Scan(
		&e.ID, &e.SequenceID, &e.RecipientEmail, &data, &e.CurrentStep,
		&e.Status, &nextSendAt, &completedAt,
	); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.RecipientData); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal recipient data: %w", err)
		}
	}
	if nextSendAt.Valid {
		e.NextSendAt = &nextSendAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}
