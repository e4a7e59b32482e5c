// Package postgres implements the engine's domain repositories against
// PostgreSQL via database/sql and squirrel.
package postgres

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sendcore/engine/config"
	"github.com/sendcore/engine/internal/database"
)

// psql is a Squirrel StatementBuilder configured for PostgreSQL's $N
// placeholder style.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Connect opens the engine's single database connection and applies the
// pool settings the rest of the codebase already tunes per environment.
func Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	maxOpen, maxIdle, maxLifetime := database.GetConnectionPoolSettings()
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
	db.SetConnMaxIdleTime(maxLifetime / 2)

	return db, nil
}
