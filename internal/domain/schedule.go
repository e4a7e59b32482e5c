package domain

import (
	"context"
	"time"
)

// RecipientSourceKind names how a RecurringCampaign resolves its
// recipient list at each fire.
type RecipientSourceKind string

const (
	RecipientSourceInline RecipientSourceKind = "inline"
	RecipientSourceCSV    RecipientSourceKind = "csv"
	RecipientSourceJSON   RecipientSourceKind = "json"
)

// RecurringCampaign is a template + recipient source + cron expression
// producing one-shot Executor invocations at each fire.
type RecurringCampaign struct {
	ID              string
	Name            string
	TemplateRef     string
	Subject         string
	CronExpr        string
	Timezone        string // IANA zone name the cron expression is evaluated in
	RecipientSource RecipientSourceKind
	RecipientRef    string // inline payload, CSV URL, or JSON URL depending on RecipientSource
	Enabled         bool
	LastRunAt       *time.Time
	NextRunAt       *time.Time
}

// SequenceStep is one ordered step of a drip sequence.
type SequenceStep struct {
	ID          string
	SequenceID  string
	Order       int
	TemplateRef string
	Subject     string
	DelayDays   int
	DelayHours  int
	SendTime    string // optional "HH:MM" wall-clock alignment
}

// SequenceEnrollmentStatus tracks an enrollment's lifecycle.
type SequenceEnrollmentStatus string

const (
	SequenceEnrollmentActive    SequenceEnrollmentStatus = "active"
	SequenceEnrollmentCompleted SequenceEnrollmentStatus = "completed"
)

// SequenceEnrollment is one recipient's progress through a sequence.
type SequenceEnrollment struct {
	ID             string
	SequenceID     string
	RecipientEmail string
	RecipientData  map[string]string
	CurrentStep    int
	Status         SequenceEnrollmentStatus
	NextSendAt     *time.Time
	CompletedAt    *time.Time
}

// ScheduledBatch represents a campaign already scheduled for one-time
// delivery at ScheduledFor; promotion only flips its owning Campaign's
// status, the actual send is driven by a consumer of that transition.
type ScheduledBatch struct {
	CampaignID   string
	ScheduledFor time.Time
}

// RecurringCampaignRepository persists recurring campaign rows.
type RecurringCampaignRepository interface {
	ListDue(ctx context.Context, asOf time.Time) ([]*RecurringCampaign, error)
	UpdateRun(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error
}

// SequenceRepository persists sequence steps and enrollments.
type SequenceRepository interface {
	ListDueEnrollments(ctx context.Context, asOf time.Time) ([]*SequenceEnrollment, error)
	GetStep(ctx context.Context, sequenceID string, order int) (*SequenceStep, error)
	AdvanceEnrollment(ctx context.Context, enrollmentID string, nextStep int, nextSendAt time.Time) error
	CompleteEnrollment(ctx context.Context, enrollmentID string, completedAt time.Time) error
}
