package domain

import (
	"context"
	"time"
)

// ProviderKind names the sender transport a SenderAccount dispatches
// through. Only two variants exist; providerFactory is the sole place
// they are switched on (see internal/provider).
type ProviderKind string

const (
	ProviderKindGmail ProviderKind = "gmail"
	ProviderKindSMTP  ProviderKind = "smtp"
)

// SenderAccount is a configured outbound channel, long-lived and
// created by an operator. It is mutated only by account management
// (send counters) and the circuit breaker (circuitBreakerUntil).
type SenderAccount struct {
	ID                  string
	Name                string
	ProviderKind        ProviderKind
	EncryptedConfig     []byte // opaque at rest; decrypt only when instantiating a Provider
	DailyCap            int
	CampaignCap         int
	Priority            int // lower = higher priority
	Enabled             bool
	CircuitBreakerUntil *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Redacted returns a copy safe to log or return to callers: the
// encrypted config blob is never exposed unredacted.
func (a SenderAccount) Redacted() SenderAccount {
	a.EncryptedConfig = nil
	return a
}

// SendCount is the per-account, per-UTC-date tally used by the Account
// Manager's daily-cap pre-check. Uniqueness is (AccountID, Date).
type SendCount struct {
	AccountID string
	Date      string // ISO YYYY-MM-DD, UTC
	Count     int
}

// AccountRepository persists SenderAccount rows and the per-day send
// counters that gate them. Implementations must make IncrementSendCount
// an atomic upsert: it is the sole writer of the send_counts row and
// commutes under concurrent callers.
type AccountRepository interface {
	// ListEligible returns enabled accounts ordered by priority ASC,
	// the candidate order the Account Manager walks.
	ListEligible(ctx context.Context) ([]*SenderAccount, error)
	Get(ctx context.Context, id string) (*SenderAccount, error)
	// SetCircuitBreakerUntil persists the breaker's cooldown expiry so
	// a restart can resume it. A nil until clears the cooldown.
	SetCircuitBreakerUntil(ctx context.Context, accountID string, until *time.Time) error

	// TodayCount reads today's UTC send_counts row, defaulting to 0.
	TodayCount(ctx context.Context, accountID string) (int, error)
	// IncrementSendCount upserts (accountID, today): insert count=1,
	// on conflict increment by 1.
	IncrementSendCount(ctx context.Context, accountID string) error
}
