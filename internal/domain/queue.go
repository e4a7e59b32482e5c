package domain

import (
	"context"
	"time"
)

// QueueEntryStatus tracks a deferred recipient through one drain pass.
type QueueEntryStatus string

const (
	QueueEntryStatusPending QueueEntryStatus = "pending"
	QueueEntryStatusSent    QueueEntryStatus = "sent"
	QueueEntryStatusFailed  QueueEntryStatus = "failed"
)

// QueueEntry is a recipient deferred because no account was available
// at send time. Never deleted by the core; it transitions to sent or
// failed during a drain pass.
type QueueEntry struct {
	ID             string
	CampaignID     string
	RecipientEmail string
	RecipientData  map[string]string
	ScheduledFor   time.Time // date; earliest eligibility
	Status         QueueEntryStatus
	CreatedAt      time.Time
}

// QueueRepository persists deferred recipients for the Queue Processor.
type QueueRepository interface {
	Create(ctx context.Context, e *QueueEntry) error
	// ListPending returns entries with status=pending and
	// scheduledFor <= asOf, the drain pass's candidate set.
	ListPending(ctx context.Context, asOf time.Time) ([]*QueueEntry, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}
