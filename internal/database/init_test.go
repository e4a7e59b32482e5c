package database

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendcore/engine/internal/database/schema"
)

func TestInitializeDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schema.TableDefinitions {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err = InitializeDatabase(db)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializeDatabase_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(".*").WillReturnError(assert.AnError)

	err = InitializeDatabase(db)
	assert.Error(t, err)
}

func TestCleanDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schema.TableNames {
		mock.ExpectExec("DROP TABLE IF EXISTS .+ CASCADE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err = CleanDatabase(db)
	assert.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanDatabase_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DROP TABLE IF EXISTS .+ CASCADE").WillReturnError(assert.AnError)

	err = CleanDatabase(db)
	assert.Error(t, err)
}
