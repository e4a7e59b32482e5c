package domain

import (
	"context"
	"time"
)

// CampaignStatus advances monotonically: draft -> scheduled -> sending -> completed.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Campaign is a single batched send. Invariant: Successful + Failed +
// Queued <= TotalRecipients at all observable times; equality holds
// once Status == completed.
type Campaign struct {
	ID              string
	Name            string
	TemplateRef     string // opaque id into an external Template/Mail entity
	Subject         string
	TotalRecipients int
	Successful      int
	Failed          int
	Queued          int
	Status          CampaignStatus
	ScheduledFor    *time.Time
	CC              []string
	BCC             []string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// Done reports whether every recipient has reached a terminal outcome.
func (c *Campaign) Done() bool {
	return c.Successful+c.Failed+c.Queued >= c.TotalRecipients
}

// SendLogStatus is the outcome of one delivery attempt.
type SendLogStatus string

const (
	SendLogStatusSuccess SendLogStatus = "success"
	SendLogStatusFailed  SendLogStatus = "failed"
	SendLogStatusQueued  SendLogStatus = "queued"
)

// SendLog is one append-only row per delivery attempt. AccountID is nil
// when no account was available (the queued path).
type SendLog struct {
	ID            string
	CampaignID    string
	AccountID     *string
	RecipientEmail string
	Status        SendLogStatus
	ErrorMessage  string
	RetryCount    int
	SentAt        time.Time
}

// Recipient is one entry of a campaign's recipient list: an address
// plus the per-recipient variable map substituted into the template.
type Recipient struct {
	Email string
	Data  map[string]string
}

// CampaignRepository persists Campaign rows. Field-scoped updates
// (IncrementSuccessful, etc.) are SQL-level x = x + 1 so concurrent
// writers of disjoint fields never clobber each other, and concurrent
// writers of the same field (two drains touching one campaign) stay
// correct.
type CampaignRepository interface {
	Create(ctx context.Context, c *Campaign) error
	Get(ctx context.Context, id string) (*Campaign, error)
	// ListByStatus finds campaigns in a given status, used by crash
	// recovery (status=sending) and the scheduled-promotion pass
	// (status=scheduled).
	ListByStatus(ctx context.Context, status CampaignStatus) ([]*Campaign, error)

	SetStatus(ctx context.Context, id string, status CampaignStatus) error
	MarkStarted(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error

	IncrementSuccessful(ctx context.Context, id string, delta int) error
	IncrementFailed(ctx context.Context, id string, delta int) error
	IncrementQueued(ctx context.Context, id string, delta int) error
	DecrementQueued(ctx context.Context, id string, delta int) error
}

// SendLogRepository is the append-only store for delivery attempts.
type SendLogRepository interface {
	Create(ctx context.Context, l *SendLog) error
	CountByStatus(ctx context.Context, campaignID string, status SendLogStatus) (int, error)
	// CountSuccessByAccountAndCampaign backs the Account Manager's
	// campaignCap predicate.
	CountSuccessByAccountAndCampaign(ctx context.Context, campaignID, accountID string) (int, error)
}
