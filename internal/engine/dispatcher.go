package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/logger"
)

// RecipientResolver turns a RecurringCampaign's declared recipient
// source into a concrete recipient list. Fetching a CSV/JSON URL is an
// I/O concern outside the engine core (§9 of the specification this
// component implements), so it is injected rather than hardcoded here.
type RecipientResolver func(ctx context.Context, source domain.RecipientSourceKind, ref string) ([]domain.Recipient, error)

// Dispatcher drives the three scheduled peers the Scheduler ticks every
// minute: promoting scheduled campaigns, firing due recurring
// campaigns, and advancing drip sequence enrollments.
type Dispatcher struct {
	campaigns  domain.CampaignRepository
	recurring  domain.RecurringCampaignRepository
	sequences  domain.SequenceRepository
	executor   *Executor
	resolve    RecipientResolver
	baseURL    string
	trackOpts  domain.TrackingOptions
	cronParser cron.Parser
	clock      func() time.Time
	log        logger.Logger
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(
	campaigns domain.CampaignRepository,
	recurring domain.RecurringCampaignRepository,
	sequences domain.SequenceRepository,
	executor *Executor,
	resolve RecipientResolver,
	baseURL string,
	trackOpts domain.TrackingOptions,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		campaigns:  campaigns,
		recurring:  recurring,
		sequences:  sequences,
		executor:   executor,
		resolve:    resolve,
		baseURL:    baseURL,
		trackOpts:  trackOpts,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		clock:      time.Now,
		log:        log.WithField("component", "dispatcher"),
	}
}

// PromoteScheduled flips every scheduled campaign whose ScheduledFor has
// arrived to sending. The actual send is driven by whatever consumes
// that status transition; promotion itself is the only responsibility
// here.
func (d *Dispatcher) PromoteScheduled(ctx context.Context) (int, error) {
	due, err := d.campaigns.ListByStatus(ctx, domain.CampaignStatusScheduled)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: list scheduled: %w", err)
	}

	now := d.clock()
	promoted := 0
	for _, c := range due {
		if c.ScheduledFor == nil || c.ScheduledFor.After(now) {
			continue
		}
		if err := d.campaigns.MarkStarted(ctx, c.ID, now); err != nil {
			d.log.WithField("campaignID", c.ID).Error("failed to stamp scheduled campaign start time")
			continue
		}
		if err := d.campaigns.SetStatus(ctx, c.ID, domain.CampaignStatusSending); err != nil {
			d.log.WithField("campaignID", c.ID).Error("failed to promote scheduled campaign")
			continue
		}
		promoted++
	}
	return promoted, nil
}

// RunRecurring fires every enabled recurring campaign whose NextRunAt
// has arrived: resolve its recipients, synthesize a one-shot Executor
// run, then recompute NextRunAt from the row's cron expression
// evaluated in its declared timezone.
func (d *Dispatcher) RunRecurring(ctx context.Context) (int, error) {
	now := d.clock()
	due, err := d.recurring.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: list due recurring campaigns: %w", err)
	}

	fired := 0
	for _, rc := range due {
		recipients, err := d.resolve(ctx, rc.RecipientSource, rc.RecipientRef)
		if err != nil {
			d.log.WithField("recurringCampaignID", rc.ID).Error("failed to resolve recurring campaign recipients")
			continue
		}

		events := d.executor.RunCampaign(ctx, CampaignParams{
			Name:        rc.Name,
			TemplateRef: rc.TemplateRef,
			Subject:     rc.Subject,
			Recipients:  recipients,
			BaseURL:     d.baseURL,
			Tracking:    d.trackOpts,
		})
		for range events {
			// Drain to completion; the recurring path has no SSE consumer.
		}

		nextRun, err := d.nextRun(rc.CronExpr, rc.Timezone, now)
		if err != nil {
			d.log.WithField("recurringCampaignID", rc.ID).Error("failed to evaluate cron expression")
			continue
		}
		if err := d.recurring.UpdateRun(ctx, rc.ID, now, nextRun); err != nil {
			d.log.WithField("recurringCampaignID", rc.ID).Error("failed to persist recurring campaign run")
			continue
		}
		fired++
	}
	return fired, nil
}

func (d *Dispatcher) nextRun(cronExpr, timezone string, asOf time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	schedule, err := d.cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(asOf.In(loc)), nil
}

// AdvanceSequences dispatches the next due step of every active
// enrollment and either advances it to the following step or completes
// it when the sequence is exhausted. Each step is sent through
// Executor.RunCampaign as a one-recipient campaign of its own, so its
// tracking token is scoped to that new campaign's id; no sequence-level
// (negative campaignId) scoping is applied.
func (d *Dispatcher) AdvanceSequences(ctx context.Context) (int, error) {
	now := d.clock()
	due, err := d.sequences.ListDueEnrollments(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: list due enrollments: %w", err)
	}

	advanced := 0
	for _, enrollment := range due {
		step, err := d.sequences.GetStep(ctx, enrollment.SequenceID, enrollment.CurrentStep)
		if err != nil {
			if err := d.sequences.CompleteEnrollment(ctx, enrollment.ID, now); err != nil {
				d.log.WithField("enrollmentID", enrollment.ID).Error("failed to complete exhausted enrollment")
			}
			continue
		}

		events := d.executor.RunCampaign(ctx, CampaignParams{
			Name:        fmt.Sprintf("sequence:%s:step:%d", enrollment.SequenceID, step.Order),
			TemplateRef: step.TemplateRef,
			Subject:     step.Subject,
			Recipients:  []domain.Recipient{{Email: enrollment.RecipientEmail, Data: enrollment.RecipientData}},
			BaseURL:     d.baseURL,
			Tracking:    d.trackOpts,
		})
		for range events {
		}

		next, err := d.sequences.GetStep(ctx, enrollment.SequenceID, enrollment.CurrentStep+1)
		if err != nil {
			if err := d.sequences.CompleteEnrollment(ctx, enrollment.ID, now); err != nil {
				d.log.WithField("enrollmentID", enrollment.ID).Error("failed to complete final enrollment step")
			}
			advanced++
			continue
		}

		nextSendAt := calculateNext(now, next)
		if err := d.sequences.AdvanceEnrollment(ctx, enrollment.ID, enrollment.CurrentStep+1, nextSendAt); err != nil {
			d.log.WithField("enrollmentID", enrollment.ID).Error("failed to advance enrollment")
			continue
		}
		advanced++
	}
	return advanced, nil
}

// calculateNext computes a SequenceStep's next fire time: delayDays and
// delayHours added to now, then, if sendTime is set, the wall-clock
// time-of-day is aligned to it on that same calendar day.
func calculateNext(now time.Time, step *domain.SequenceStep) time.Time {
	next := now.AddDate(0, 0, step.DelayDays).Add(time.Duration(step.DelayHours) * time.Hour)
	if step.SendTime == "" {
		return next
	}

	var hour, minute int
	if _, err := fmt.Sscanf(step.SendTime, "%d:%d", &hour, &minute); err != nil {
		return next
	}
	y, m, d := next.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, next.Location())
}
