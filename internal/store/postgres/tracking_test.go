package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendcore/engine/internal/domain"
)

func TestTrackingTokenRepository_GetOrCreate_Existing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTrackingTokenRepository(db)

	rows := sqlmock.NewRows([]string{"token"}).AddRow("abc123")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token FROM tracking_tokens WHERE campaign_id = $1 AND recipient_email = $2`)).
		WithArgs("camp1", "a@example.com").
		WillReturnRows(rows)

	token, err := repo.GetOrCreate(context.Background(), "camp1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestTrackingTokenRepository_GetOrCreate_MintsNew(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTrackingTokenRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token FROM tracking_tokens WHERE campaign_id = $1 AND recipient_email = $2`)).
		WithArgs("camp1", "a@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tracking_tokens`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token FROM tracking_tokens WHERE campaign_id = $1 AND recipient_email = $2`)).
		WithArgs("camp1", "a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("freshtoken"))

	token, err := repo.GetOrCreate(context.Background(), "camp1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "freshtoken", token)
}

func TestTrackingTokenRepository_GetDetails_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTrackingTokenRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token, campaign_id, recipient_email`)).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetDetails(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}
