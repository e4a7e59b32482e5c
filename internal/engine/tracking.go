package engine

import (
	"context"
	"strings"

	"github.com/sendcore/engine/internal/domain"
)

// TrackingService mints and resolves tracking tokens. Token generation,
// persistence and the idempotent-insert race are all delegated to the
// repository; tracking URLs are built by the compiler, not here.
type TrackingService struct {
	tokens  domain.TrackingTokenRepository
	baseURL string
}

// NewTrackingService wires a TrackingService. baseURL is stripped of any
// trailing slash so path joins never double up.
func NewTrackingService(tokens domain.TrackingTokenRepository, baseURL string) *TrackingService {
	return &TrackingService{
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// GetOrCreateToken returns the tracking token for (campaignID, recipient),
// minting one if this is the pair's first send.
func (s *TrackingService) GetOrCreateToken(ctx context.Context, campaignID, recipientEmail string) (string, error) {
	return s.tokens.GetOrCreate(ctx, campaignID, recipientEmail)
}

// TokenDetails resolves a token back to the campaign/recipient pair that
// minted it, for pixel and redirect handlers to attribute an open or click.
func (s *TrackingService) TokenDetails(ctx context.Context, token string) (*domain.TrackingToken, error) {
	return s.tokens.GetDetails(ctx, token)
}
