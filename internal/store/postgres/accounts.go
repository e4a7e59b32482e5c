package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sendcore/engine/internal/domain"
)

// AccountRepository implements domain.AccountRepository against the
// sender_accounts and send_counts tables.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository wires an AccountRepository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) ListEligible(ctx context.Context) ([]*domain.SenderAccount, error) {
	query, args, err := psql.Select(
		"id", "name", "provider_kind", "encrypted_config", "daily_cap",
		"campaign_cap", "priority", "enabled", "circuit_breaker_until",
		"created_at", "updated_at",
	).From("sender_accounts").
		Where("enabled = true").
		OrderBy("priority ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build ListEligible query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: ListEligible: %w", err)
	}
	defer rows.Close()

	var out []*domain.SenderAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AccountRepository) Get(ctx context.Context, id string) (*domain.SenderAccount, error) {
	query, args, err := psql.Select(
		"id", "name", "provider_kind", "encrypted_config", "daily_cap",
		"campaign_cap", "priority", "enabled", "circuit_breaker_until",
		"created_at", "updated_at",
	).From("sender_accounts").Where("id = ?", id).ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build Get query: %w", err)
	}

	row := r.db.QueryRowContext(ctx, query, args...)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: Get account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) SetCircuitBreakerUntil(ctx context.Context, accountID string, until *time.Time) error {
	query, args, err := psql.Update("sender_accounts").
		Set("circuit_breaker_until", until).
		Set("updated_at", time.Now().UTC()).
		Where("id = ?", accountID).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build SetCircuitBreakerUntil query: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: SetCircuitBreakerUntil: %w", err)
	}
	return nil
}

func (r *AccountRepository) TodayCount(ctx context.Context, accountID string) (int, error) {
	today := time.Now().UTC().Format("2006-01-02")
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count FROM send_counts WHERE account_id = $1 AND date = $2`,
		accountID, today,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: TodayCount: %w", err)
	}
	return count, nil
}

// IncrementSendCount is an atomic upsert: insert (accountID, today, 1),
// or on conflict increment the existing row by 1.
func (r *AccountRepository) IncrementSendCount(ctx context.Context, accountID string) error {
	today := time.Now().UTC().Format("2006-01-02")
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_counts (account_id, date, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, date) DO UPDATE SET count = send_counts.count + 1
	`, accountID, today)
	if err != nil {
		return fmt.Errorf("postgres: IncrementSendCount: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(s scanner) (*domain.SenderAccount, error) {
	var a domain.SenderAccount
	var cbUntil sql.NullTime
	if err := s.Scan(
		&a.ID, &a.Name, &a.ProviderKind, &a.EncryptedConfig, &a.DailyCap,
		&a.CampaignCap, &a.Priority, &a.Enabled, &cbUntil,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if cbUntil.Valid {
		a.CircuitBreakerUntil = &cbUntil.Time
	}
	return &a, nil
}
