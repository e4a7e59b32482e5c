package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/sendcore/engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

type fakeTrackingTokenRepo struct {
	tokens map[string]string // campaignID|email -> token
	byToken map[string]*domain.TrackingToken
}

func (f *fakeTrackingTokenRepo) GetOrCreate(ctx context.Context, campaignID, recipientEmail string) (string, error) {
	if f.tokens == nil {
		f.tokens = map[string]string{}
		f.byToken = map[string]*domain.TrackingToken{}
	}
	key := campaignID + "|" + recipientEmail
	if tok, ok := f.tokens[key]; ok {
		return tok, nil
	}
	tok := fakeToken()
	f.tokens[key] = tok
	f.byToken[tok] = &domain.TrackingToken{Token: tok, CampaignID: campaignID, RecipientEmail: recipientEmail}
	return tok, nil
}

func (f *fakeTrackingTokenRepo) GetDetails(ctx context.Context, token string) (*domain.TrackingToken, error) {
	t, ok := f.byToken[token]
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return t, nil
}

func TestTrackingService_GetOrCreateIsIdempotent(t *testing.T) {
	svc := NewTrackingService(&fakeTrackingTokenRepo{}, "https://send.example.com")

	tok1, err := svc.GetOrCreateToken(context.Background(), "campaign1", "a@example.com")
	require.NoError(t, err)

	tok2, err := svc.GetOrCreateToken(context.Background(), "campaign1", "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
}

func TestTrackingService_TokenDetails(t *testing.T) {
	svc := NewTrackingService(&fakeTrackingTokenRepo{}, "https://send.example.com")

	tok, err := svc.GetOrCreateToken(context.Background(), "campaign1", "a@example.com")
	require.NoError(t, err)

	details, err := svc.TokenDetails(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "campaign1", details.CampaignID)
	assert.Equal(t, "a@example.com", details.RecipientEmail)
}

func TestTrackingService_TokenDetailsNotFound(t *testing.T) {
	svc := NewTrackingService(&fakeTrackingTokenRepo{}, "https://send.example.com")

	_, err := svc.TokenDetails(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

