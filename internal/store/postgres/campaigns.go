package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sendcore/engine/internal/domain"
)

// CampaignRepository implements domain.CampaignRepository against the
// campaigns table.
type CampaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository wires a CampaignRepository.
func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	query, args, err := psql.Insert("campaigns").
		Columns("id", "name", "template_ref", "subject", "total_recipients",
			"successful", "failed", "queued", "status", "scheduled_for",
			"cc", "bcc", "started_at", "completed_at", "created_at").
		Values(c.ID, c.Name, c.TemplateRef, c.Subject, c.TotalRecipients,
			c.Successful, c.Failed, c.Queued, c.Status, c.ScheduledFor,
			strings.Join(c.CC, ","), strings.Join(c.BCC, ","),
			c.StartedAt, c.CompletedAt, c.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build Create campaign query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: Create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, template_ref, subject, total_recipients, successful,
		       failed, queued, status, scheduled_for, cc, bcc, started_at,
		       completed_at, created_at
		FROM campaigns WHERE id = $1
	`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: Get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, template_ref, subject, total_recipients, successful,
		       failed, queued, status, scheduled_for, cc, bcc, started_at,
		       completed_at, created_at
		FROM campaigns WHERE status = $1
	`, status)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListByStatus: %w", err)
	}
	defer rows.Close()

	var out []*domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepository) SetStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("postgres: SetStatus: %w", err)
	}
	return nil
}

func (r *CampaignRepository) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET started_at = $2 WHERE id = $1`, id, startedAt)
	if err != nil {
		return fmt.Errorf("postgres: MarkStarted: %w", err)
	}
	return nil
}

func (r *CampaignRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET completed_at = $2 WHERE id = $1`, id, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: MarkCompleted: %w", err)
	}
	return nil
}

func (r *CampaignRepository) IncrementSuccessful(ctx context.Context, id string, delta int) error {
	return r.increment(ctx, "successful", id, delta)
}
func (r *CampaignRepository) IncrementFailed(ctx context.Context, id string, delta int) error {
	return r.increment(ctx, "failed", id, delta)
}
func (r *CampaignRepository) IncrementQueued(ctx context.Context, id string, delta int) error {
	return r.increment(ctx, "queued", id, delta)
}
func (r *CampaignRepository) DecrementQueued(ctx context.Context, id string, delta int) error {
	return r.increment(ctx, "queued", id, -delta)
}

// increment performs a SQL-level x = x + delta update so concurrent
// writers of the same counter column never clobber each other.
func (r *CampaignRepository) increment(ctx context.Context, column, id string, delta int) error {
	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + $2 WHERE id = $1`, column, column)
	if _, err := r.db.ExecContext(ctx, query, id, delta); err != nil {
		return fmt.Errorf("postgres: increment %s: %w", column, err)
	}
	return nil
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var cc, bcc string
	var scheduledFor, startedAt, completedAt sql.NullTime
	if err := s.Scan(
		&c.ID, &c.Name, &c.TemplateRef, &c.Subject, &c.TotalRecipients,
		&c.Successful, &c.Failed, &c.Queued, &c.Status, &scheduledFor,
		&cc, &bcc, &startedAt, &completedAt, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if cc != "" {
		c.CC = strings.Split(cc, ",")
	}
	if bcc != "" {
		c.BCC = strings.Split(bcc, ",")
	}
	if scheduledFor.Valid {
		c.ScheduledFor = &scheduledFor.Time
	}
	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

// SendLogRepository implements domain.SendLogRepository against the
// append-only send_logs table.
type SendLogRepository struct {
	db *sql.DB
}

// NewSendLogRepository wires a SendLogRepository.
func NewSendLogRepository(db *sql.DB) *SendLogRepository {
	return &SendLogRepository{db: db}
}

func (r *SendLogRepository) Create(ctx context.Context, l *domain.SendLog) error {
	query, args, err := psql.Insert("send_logs").
		Columns("id", "campaign_id", "account_id", "recipient_email",
			"status", "error_message", "retry_count", "sent_at").
		Values(l.ID, l.CampaignID, l.AccountID, l.RecipientEmail,
			l.Status, l.ErrorMessage, l.RetryCount, l.SentAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build Create send log query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: Create send log: %w", err)
	}
	return nil
}

func (r *SendLogRepository) CountByStatus(ctx context.Context, campaignID string, status domain.SendLogStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM send_logs WHERE campaign_id = $1 AND status = $2`,
		campaignID, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: CountByStatus: %w", err)
	}
	return count, nil
}

func (r *SendLogRepository) CountSuccessByAccountAndCampaign(ctx context.Context, campaignID, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM send_logs
		WHERE campaign_id = $1 AND account_id = $2 AND status = $3
	`, campaignID, accountID, domain.SendLogStatusSuccess).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: CountSuccessByAccountAndCampaign: %w", err)
	}
	return count, nil
}
