package domain

import "context"

// TrackingToken is a per-(campaign, recipient) opaque identifier
// embedded in a sent email to measure opens/clicks. Sequence steps are
// sent as campaigns of their own, so CampaignID is always an ordinary
// campaign id; no negative (sequence-scoped) ids are produced.
type TrackingToken struct {
	Token          string
	CampaignID     string
	RecipientEmail string
}

// TrackingOwner names a token's owner explicitly, as either a one-shot
// campaign or a sequence enrollment. No repository or engine code in this
// module produces or reads it.
type TrackingOwner struct {
	CampaignID string // set when the token belongs to a one-shot campaign
	SequenceID string // set when the token belongs to a sequence enrollment
}

// TrackingTokenRepository mints and resolves tracking tokens. Mint must
// be idempotent under concurrent callers for the same (campaignID,
// recipientEmail): implementations either take a per-key mutex or lean
// on a uniqueness constraint with a retry-read on insert conflict.
type TrackingTokenRepository interface {
	// GetOrCreate returns the existing token for (campaignID, email) or
	// mints a new cryptographically random one.
	GetOrCreate(ctx context.Context, campaignID, recipientEmail string) (string, error)
	// GetDetails resolves a token back to its owner, or ErrTokenNotFound.
	GetDetails(ctx context.Context, token string) (*TrackingToken, error)
}
