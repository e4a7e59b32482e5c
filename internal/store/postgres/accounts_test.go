package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendcore/engine/internal/domain"
)

func setupAccountMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AccountRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewAccountRepository(db)
}

var accountColumns = []string{
	"id", "name", "provider_kind", "encrypted_config", "daily_cap",
	"campaign_cap", "priority", "enabled", "circuit_breaker_until",
	"created_at", "updated_at",
}

func TestAccountRepository_ListEligible(t *testing.T) {
	db, mock, repo := setupAccountMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(accountColumns).
		AddRow("acct1", "Primary", domain.ProviderKindSMTP, []byte("{}"), 1000, 100, 1, true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, provider_kind, encrypted_config, daily_cap, campaign_cap, priority, enabled, circuit_breaker_until, created_at, updated_at FROM sender_accounts WHERE enabled = true ORDER BY priority ASC`)).
		WillReturnRows(rows)

	accounts, err := repo.ListEligible(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acct1", accounts[0].ID)
	assert.True(t, accounts[0].Enabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Get_NotFound(t *testing.T) {
	db, mock, repo := setupAccountMock(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, provider_kind, encrypted_config, daily_cap, campaign_cap, priority, enabled, circuit_breaker_until, created_at, updated_at FROM sender_accounts WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_TodayCount_NoRow(t *testing.T) {
	db, mock, repo := setupAccountMock(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count FROM send_counts WHERE account_id = $1 AND date = $2`)).
		WillReturnError(sql.ErrNoRows)

	count, err := repo.TodayCount(context.Background(), "acct1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAccountRepository_IncrementSendCount(t *testing.T) {
	db, mock, repo := setupAccountMock(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`
		INSERT INTO send_counts (account_id, date, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, date) DO UPDATE SET count = send_counts.count + 1
	`)).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementSendCount(context.Background(), "acct1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
