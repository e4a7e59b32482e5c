package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sendcore/engine/internal/domain"
)

// TemplateRepository implements domain.TemplateRepository against the
// templates table: a flat id -> raw markup lookup. The engine treats
// TemplateRef as opaque; it never interprets the id beyond this lookup.
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository wires a TemplateRepository.
func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) GetHTML(ctx context.Context, templateRef string) (string, error) {
	var html string
	err := r.db.QueryRowContext(ctx,
		`SELECT html FROM templates WHERE id = $1`, templateRef,
	).Scan(&html)
	if err == sql.ErrNoRows {
		return "", domain.ErrTemplateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: GetHTML: %w", err)
	}
	return html, nil
}
