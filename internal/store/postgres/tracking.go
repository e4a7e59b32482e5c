package postgres

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/sendcore/engine/internal/domain"
)

// TrackingTokenRepository implements domain.TrackingTokenRepository
// against the tracking_tokens table.
type TrackingTokenRepository struct {
	db *sql.DB
}

// NewTrackingTokenRepository wires a TrackingTokenRepository.
func NewTrackingTokenRepository(db *sql.DB) *TrackingTokenRepository {
	return &TrackingTokenRepository{db: db}
}

// GetOrCreate relies on a unique (campaign_id, recipient_email) index and
// a retry-read on conflict, since two concurrent callers racing to mint
// a token for the same recipient must converge on one value.
func (r *TrackingTokenRepository) GetOrCreate(ctx context.Context, campaignID, recipientEmail string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `
		SELECT token FROM tracking_tokens WHERE campaign_id = $1 AND recipient_email = $2
	`, campaignID, recipientEmail).Scan(&token)
	if err == nil {
		return token, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("postgres: GetOrCreate lookup: %w", err)
	}

	token, err = newToken()
	if err != nil {
		return "", err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tracking_tokens (token, campaign_id, recipient_email)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, recipient_email) DO NOTHING
	`, token, campaignID, recipientEmail)
	if err != nil {
		return "", fmt.Errorf("postgres: GetOrCreate insert: %w", err)
	}

	// Another caller may have won the race; re-read to converge.
	err = r.db.QueryRowContext(ctx, `
		SELECT token FROM tracking_tokens WHERE campaign_id = $1 AND recipient_email = $2
	`, campaignID, recipientEmail).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("postgres: GetOrCreate re-read: %w", err)
	}
	return token, nil
}

func (r *TrackingTokenRepository) GetDetails(ctx context.Context, token string) (*domain.TrackingToken, error) {
	var t domain.TrackingToken
	err := r.db.QueryRowContext(ctx, `
		SELECT token, campaign_id, recipient_email FROM tracking_tokens WHERE token = $1
	`, token).Scan(&t.Token, &t.CampaignID, &t.RecipientEmail)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: GetDetails: %w", err)
	}
	return &t, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("postgres: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
