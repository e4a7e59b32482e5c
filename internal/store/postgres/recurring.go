package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sendcore/engine/internal/domain"
)

// RecurringCampaignRepository implements domain.RecurringCampaignRepository
// against the recurring_campaigns table.
type RecurringCampaignRepository struct {
	db *sql.DB
}

// NewRecurringCampaignRepository wires a RecurringCampaignRepository.
func NewRecurringCampaignRepository(db *sql.DB) *RecurringCampaignRepository {
	return &RecurringCampaignRepository{db: db}
}

func (r *RecurringCampaignRepository) ListDue(ctx context.Context, asOf time.Time) ([]*domain.RecurringCampaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, template_ref, subject, cron_expr, timezone,
		       recipient_source, recipient_ref, enabled, last_run_at, next_run_at
		FROM recurring_campaigns
		WHERE enabled = true AND (next_run_at IS NULL OR next_run_at <= $1)
	`, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListDue: %w", err)
	}
	defer rows.Close()

	var out []*domain.RecurringCampaign
	for rows.Next() {
		rc, err := scanRecurringCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *RecurringCampaignRepository) UpdateRun(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE recurring_campaigns SET last_run_at = $2, next_run_at = $3 WHERE id = $1
	`, id, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("postgres: UpdateRun: %w", err)
	}
	return nil
}

func scanRecurringCampaign(s scanner) (*domain.RecurringCampaign, error) {
	var rc domain.RecurringCampaign
	var lastRunAt, nextRunAt sql.NullTime
	if err := s.Scan(
		&rc.ID, &rc.Name, &rc.TemplateRef, &rc.Subject, &rc.CronExpr, &rc.Timezone,
		&rc.RecipientSource, &rc.RecipientRef, &rc.Enabled, &lastRunAt, &nextRunAt,
	); err != nil {
		return nil, err
	}
	if lastRunAt.Valid {
		rc.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		rc.NextRunAt = &nextRunAt.Time
	}
	return &rc, nil
}
