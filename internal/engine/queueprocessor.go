package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/emailerror"
	"github.com/sendcore/engine/pkg/logger"
)

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Processed int
	Failed    int
}

// QueueProcessor retries recipients deferred because no account was
// available at their original send time. Grounded in the teacher's
// EmailQueueWorker, simplified to the spec's single synchronous pass:
// no worker pool, no retry backoff beyond the one attempt a pending
// entry gets per Drain call.
type QueueProcessor struct {
	queue      domain.QueueRepository
	campaigns  domain.CampaignRepository
	sendLogs   domain.SendLogRepository
	accounts   *AccountManager
	tracking   *TrackingService
	compiler   domain.Compiler
	providers  domain.ProviderFactory
	classifier *emailerror.Classifier
	baseURL    string
	trackOpts  domain.TrackingOptions
	log        logger.Logger
}

// NewQueueProcessor wires a QueueProcessor. baseURL and trackOpts apply
// uniformly to every entry drained, since a QueueEntry carries no
// per-recipient tracking preference of its own.
func NewQueueProcessor(
	queue domain.QueueRepository,
	campaigns domain.CampaignRepository,
	sendLogs domain.SendLogRepository,
	accounts *AccountManager,
	tracking *TrackingService,
	compiler domain.Compiler,
	providers domain.ProviderFactory,
	baseURL string,
	trackOpts domain.TrackingOptions,
	log logger.Logger,
) *QueueProcessor {
	return &QueueProcessor{
		queue:      queue,
		campaigns:  campaigns,
		sendLogs:   sendLogs,
		accounts:   accounts,
		tracking:   tracking,
		compiler:   compiler,
		providers:  providers,
		classifier: emailerror.NewClassifier(),
		baseURL:    baseURL,
		trackOpts:  trackOpts,
		log:        log.WithField("component", "queue_processor"),
	}
}

// Drain attempts one delivery per pending entry whose ScheduledFor has
// arrived, stopping the instant no eligible account remains — the
// remaining entries stay pending for the next tick.
func (p *QueueProcessor) Drain(ctx context.Context, asOf time.Time) (DrainResult, error) {
	entries, err := p.queue.ListPending(ctx, asOf)
	if err != nil {
		return DrainResult{}, fmt.Errorf("queue processor: list pending: %w", err)
	}

	var result DrainResult
	for _, entry := range entries {
		campaign, err := p.campaigns.Get(ctx, entry.CampaignID)
		if err != nil {
			p.log.WithField("queueEntryID", entry.ID).Error("drain: campaign not found for queue entry")
			continue
		}

		account, err := p.accounts.NextAvailableAccount(ctx, campaign.ID)
		if err == domain.ErrNoEligibleAccount {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("queue processor: select account: %w", err)
		}

		if p.attempt(ctx, campaign, entry, account) {
			result.Processed++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

func (p *QueueProcessor) attempt(ctx context.Context, campaign *domain.Campaign, entry *domain.QueueEntry, account *domain.SenderAccount) bool {
	html, err := p.compiler.Compile(ctx, campaign.TemplateRef, entry.RecipientData, p.baseURL)
	if err != nil {
		p.fail(ctx, campaign, entry, fmt.Sprintf("compile: %v", err))
		return false
	}

	subject := p.compiler.SubstituteSubject(campaign.Subject, entry.RecipientData)

	if p.trackOpts.Open || p.trackOpts.Click {
		token, err := p.tracking.GetOrCreateToken(ctx, campaign.ID, entry.RecipientEmail)
		if err != nil {
			p.fail(ctx, campaign, entry, fmt.Sprintf("tracking token: %v", err))
			return false
		}
		html, err = p.compiler.InjectTracking(html, token, p.baseURL, p.trackOpts)
		if err != nil {
			p.fail(ctx, campaign, entry, fmt.Sprintf("inject tracking: %v", err))
			return false
		}
	}

	plainConfig, err := p.accounts.DecryptedConfig(ctx, account)
	if err != nil {
		p.fail(ctx, campaign, entry, fmt.Sprintf("decrypt account config: %v", err))
		return false
	}

	prov, err := p.providers.New(account.ProviderKind, plainConfig)
	if err != nil {
		p.fail(ctx, campaign, entry, fmt.Sprintf("build provider: %v", err))
		return false
	}
	defer prov.Close()

	msg := domain.Message{To: entry.RecipientEmail, CC: campaign.CC, BCC: campaign.BCC, Subject: subject, HTML: html}
	if err := prov.Send(ctx, msg); err != nil {
		classified := p.classifier.Classify(err, account.ProviderKind)
		p.accounts.RecordFailure(ctx, account.ID, classified)
		p.fail(ctx, campaign, entry, classified.Error())
		return false
	}

	p.accounts.RecordSuccess(account.ID)
	if err := p.accounts.RecordSend(ctx, account.ID); err != nil {
		p.log.WithField("accountID", account.ID).Warn("failed to increment send counter")
	}
	p.succeed(ctx, campaign, entry, account.ID)
	return true
}

func (p *QueueProcessor) succeed(ctx context.Context, campaign *domain.Campaign, entry *domain.QueueEntry, accountID string) {
	if err := p.queue.MarkSent(ctx, entry.ID); err != nil {
		p.log.WithField("queueEntryID", entry.ID).Error("failed to mark queue entry sent")
	}
	if err := p.sendLogs.Create(ctx, &domain.SendLog{
		ID: entry.ID, CampaignID: campaign.ID, AccountID: &accountID,
		RecipientEmail: entry.RecipientEmail, Status: domain.SendLogStatusSuccess, SentAt: time.Now(),
	}); err != nil {
		p.log.WithField("queueEntryID", entry.ID).Error("failed to log drained send")
	}
	p.updateCounters(ctx, campaign.ID, 1, 0)
}

func (p *QueueProcessor) fail(ctx context.Context, campaign *domain.Campaign, entry *domain.QueueEntry, reason string) {
	if err := p.queue.MarkFailed(ctx, entry.ID); err != nil {
		p.log.WithField("queueEntryID", entry.ID).Error("failed to mark queue entry failed")
	}
	if err := p.sendLogs.Create(ctx, &domain.SendLog{
		ID: entry.ID, CampaignID: campaign.ID, RecipientEmail: entry.RecipientEmail,
		Status: domain.SendLogStatusFailed, ErrorMessage: reason, SentAt: time.Now(),
	}); err != nil {
		p.log.WithField("queueEntryID", entry.ID).Error("failed to log drained failure")
	}
	p.updateCounters(ctx, campaign.ID, 0, 1)
}

// updateCounters applies the drained entry's outcome to the owning
// Campaign's running totals and, once every recipient has reached a
// terminal state, stamps completion.
func (p *QueueProcessor) updateCounters(ctx context.Context, campaignID string, successDelta, failDelta int) {
	if successDelta > 0 {
		if err := p.campaigns.IncrementSuccessful(ctx, campaignID, successDelta); err != nil {
			p.log.WithField("campaignID", campaignID).Error("failed to increment successful count")
		}
	}
	if failDelta > 0 {
		if err := p.campaigns.IncrementFailed(ctx, campaignID, failDelta); err != nil {
			p.log.WithField("campaignID", campaignID).Error("failed to increment failed count")
		}
	}
	if err := p.campaigns.DecrementQueued(ctx, campaignID, successDelta+failDelta); err != nil {
		p.log.WithField("campaignID", campaignID).Error("failed to decrement queued count")
	}

	campaign, err := p.campaigns.Get(ctx, campaignID)
	if err != nil {
		return
	}
	if campaign.Successful+campaign.Failed >= campaign.TotalRecipients {
		if err := p.campaigns.MarkCompleted(ctx, campaignID, time.Now()); err != nil {
			p.log.WithField("campaignID", campaignID).Error("failed to mark campaign completed")
		}
	}
}
