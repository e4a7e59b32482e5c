package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/emailerror"
	"github.com/sendcore/engine/pkg/logger"
)

// pacePause is the fixed per-recipient throttle the spec mandates
// between dispatch attempts. It is a UX/rate-shaping knob, not a
// correctness requirement, so it is a constant rather than configurable.
const pacePause = 300 * time.Millisecond

// CampaignParams is the input to RunCampaign.
type CampaignParams struct {
	Name        string
	TemplateRef string
	Subject     string
	Recipients  []domain.Recipient
	CC          []string
	BCC         []string
	BaseURL     string
	Tracking    domain.TrackingOptions
}

// Executor composes account selection, template compilation, tracking,
// provider dispatch, and bookkeeping into one delivery run. It is the
// only component that touches all of those collaborators together.
type Executor struct {
	campaigns  domain.CampaignRepository
	sendLogs   domain.SendLogRepository
	queue      domain.QueueRepository
	accounts   *AccountManager
	tracking   *TrackingService
	compiler   domain.Compiler
	providers  domain.ProviderFactory
	classifier *emailerror.Classifier
	pace       *PaceLimiter
	clock      func() time.Time
	log        logger.Logger
}

// NewExecutor wires an Executor.
func NewExecutor(
	campaigns domain.CampaignRepository,
	sendLogs domain.SendLogRepository,
	queue domain.QueueRepository,
	accounts *AccountManager,
	tracking *TrackingService,
	compiler domain.Compiler,
	providers domain.ProviderFactory,
	pace *PaceLimiter,
	log logger.Logger,
) *Executor {
	return &Executor{
		campaigns:  campaigns,
		sendLogs:   sendLogs,
		queue:      queue,
		accounts:   accounts,
		tracking:   tracking,
		compiler:   compiler,
		providers:  providers,
		classifier: emailerror.NewClassifier(),
		pace:       pace,
		clock:      time.Now,
		log:        log.WithField("component", "executor"),
	}
}

// RunCampaign inserts the Campaign row, then dispatches every recipient
// in a background goroutine, streaming a ProgressEvent per step. The
// returned channel is closed once the run reaches complete or a fatal
// error; the caller owns draining it.
func (e *Executor) RunCampaign(ctx context.Context, params CampaignParams) <-chan domain.ProgressEvent {
	events := make(chan domain.ProgressEvent, 1)

	campaign := &domain.Campaign{
		ID:              uuid.NewString(),
		Name:            params.Name,
		TemplateRef:     params.TemplateRef,
		Subject:         params.Subject,
		TotalRecipients: len(params.Recipients),
		Status:          domain.CampaignStatusSending,
		CC:              params.CC,
		BCC:             params.BCC,
		StartedAt:       timePtr(e.clock()),
		CreatedAt:       e.clock(),
	}

	if err := e.campaigns.Create(ctx, campaign); err != nil {
		go func() {
			events <- domain.ProgressEvent{Kind: domain.ProgressKindError, Message: fmt.Sprintf("create campaign: %v", err)}
			close(events)
		}()
		return events
	}

	go e.run(ctx, campaign, params, events)
	return events
}

func (e *Executor) run(ctx context.Context, campaign *domain.Campaign, params CampaignParams, events chan<- domain.ProgressEvent) {
	defer close(events)

	var successful, failed, queued int

	for i, recipient := range params.Recipients {
		current := i + 1

		account, err := e.accounts.NextAvailableAccount(ctx, campaign.ID)
		if err != nil && err != domain.ErrNoEligibleAccount {
			events <- domain.ProgressEvent{Kind: domain.ProgressKindError, Message: fmt.Sprintf("select account: %v", err), CampaignID: campaign.ID}
			return
		}

		if account == nil {
			if err := e.enqueue(ctx, campaign, recipient); err != nil {
				events <- domain.ProgressEvent{Kind: domain.ProgressKindError, Message: fmt.Sprintf("enqueue %s: %v", recipient.Email, err), CampaignID: campaign.ID}
				return
			}
			queued++
			events <- domain.ProgressEvent{
				Kind: domain.ProgressKindProgress, Current: current, Total: campaign.TotalRecipients,
				Message: fmt.Sprintf("Queued %s for tomorrow", recipient.Email), CampaignID: campaign.ID,
			}
			e.pacePass(ctx, "")
			continue
		}

		msg, err := e.compileMessage(ctx, campaign, params, recipient, account.ID)
		if err != nil {
			events <- domain.ProgressEvent{Kind: domain.ProgressKindError, Message: err.Error(), CampaignID: campaign.ID}
			return
		}

		if sendErr := e.dispatch(ctx, account, msg); sendErr != nil {
			classified := e.classifier.Classify(sendErr, account.ProviderKind)
			e.accounts.RecordFailure(ctx, account.ID, classified)

			if err := e.recordSendLog(ctx, campaign.ID, &account.ID, recipient.Email, domain.SendLogStatusFailed, classified.Error()); err != nil {
				events <- domain.ProgressEvent{Kind: domain.ProgressKindError, Message: fmt.Sprintf("log failure: %v", err), CampaignID: campaign.ID}
				return
			}
			failed++
			events <- domain.ProgressEvent{
				Kind: domain.ProgressKindProgress, Current: current, Total: campaign.TotalRecipients,
				Message: fmt.Sprintf("Failed: %s - %s", recipient.Email, classified.Error()), CampaignID: campaign.ID,
			}
			e.pacePass(ctx, account.ID)
			continue
		}

		e.accounts.RecordSuccess(account.ID)
		if err := e.accounts.RecordSend(ctx, account.ID); err != nil {
			e.log.WithField("accountID", account.ID).Warn("failed to increment send counter")
		}
		if err := e.recordSendLog(ctx, campaign.ID, &account.ID, recipient.Email, domain.SendLogStatusSuccess, ""); err != nil {
			events <- domain.ProgressEvent{Kind: domain.ProgressKindError, Message: fmt.Sprintf("log success: %v", err), CampaignID: campaign.ID}
			return
		}
		successful++
		events <- domain.ProgressEvent{
			Kind: domain.ProgressKindProgress, Current: current, Total: campaign.TotalRecipients,
			Message: fmt.Sprintf("Sent to %s via %s", recipient.Email, account.Name), CampaignID: campaign.ID,
		}
		e.pacePass(ctx, account.ID)
	}

	e.complete(ctx, campaign, successful, failed, queued, events)
}

// compileMessage renders the template and, when tracking is requested,
// mints a token and rewrites the HTML before it ever reaches a Provider.
func (e *Executor) compileMessage(ctx context.Context, campaign *domain.Campaign, params CampaignParams, recipient domain.Recipient, accountID string) (domain.Message, error) {
	html, err := e.compiler.Compile(ctx, params.TemplateRef, recipient.Data, params.BaseURL)
	if err != nil {
		return domain.Message{}, fmt.Errorf("compile template for %s: %w", recipient.Email, err)
	}

	subject := e.compiler.SubstituteSubject(params.Subject, recipient.Data)

	if params.Tracking.Open || params.Tracking.Click {
		token, err := e.tracking.GetOrCreateToken(ctx, campaign.ID, recipient.Email)
		if err != nil {
			return domain.Message{}, fmt.Errorf("mint tracking token for %s: %w", recipient.Email, err)
		}
		html, err = e.compiler.InjectTracking(html, token, params.BaseURL, params.Tracking)
		if err != nil {
			return domain.Message{}, fmt.Errorf("inject tracking for %s: %w", recipient.Email, err)
		}
	}

	return domain.Message{
		To:      recipient.Email,
		CC:      params.CC,
		BCC:     params.BCC,
		Subject: subject,
		HTML:    html,
	}, nil
}

// dispatch builds a live Provider for account and releases it on every
// exit path, guarding against a leaked connection on a send failure.
func (e *Executor) dispatch(ctx context.Context, account *domain.SenderAccount, msg domain.Message) error {
	plainConfig, err := e.accounts.DecryptedConfig(ctx, account)
	if err != nil {
		return err
	}

	prov, err := e.providers.New(account.ProviderKind, plainConfig)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}
	defer prov.Close()

	return prov.Send(ctx, msg)
}

func (e *Executor) enqueue(ctx context.Context, campaign *domain.Campaign, recipient domain.Recipient) error {
	entry := &domain.QueueEntry{
		ID:             uuid.NewString(),
		CampaignID:     campaign.ID,
		RecipientEmail: recipient.Email,
		RecipientData:  recipient.Data,
		ScheduledFor:   tomorrowUTC(e.clock()),
		Status:         domain.QueueEntryStatusPending,
		CreatedAt:      e.clock(),
	}
	if err := e.queue.Create(ctx, entry); err != nil {
		return fmt.Errorf("create queue entry: %w", err)
	}
	return e.recordSendLog(ctx, campaign.ID, nil, recipient.Email, domain.SendLogStatusQueued, "All accounts at cap")
}

func (e *Executor) recordSendLog(ctx context.Context, campaignID string, accountID *string, email string, status domain.SendLogStatus, errMsg string) error {
	log := &domain.SendLog{
		ID:             uuid.NewString(),
		CampaignID:     campaignID,
		AccountID:      accountID,
		RecipientEmail: email,
		Status:         status,
		ErrorMessage:   errMsg,
		SentAt:         e.clock(),
	}
	return e.sendLogs.Create(ctx, log)
}

func (e *Executor) complete(ctx context.Context, campaign *domain.Campaign, successful, failed, queued int, events chan<- domain.ProgressEvent) {
	if err := e.campaigns.IncrementSuccessful(ctx, campaign.ID, successful); err != nil {
		e.log.WithField("campaignID", campaign.ID).Error("failed to persist successful count")
	}
	if err := e.campaigns.IncrementFailed(ctx, campaign.ID, failed); err != nil {
		e.log.WithField("campaignID", campaign.ID).Error("failed to persist failed count")
	}
	if err := e.campaigns.IncrementQueued(ctx, campaign.ID, queued); err != nil {
		e.log.WithField("campaignID", campaign.ID).Error("failed to persist queued count")
	}
	if err := e.campaigns.MarkCompleted(ctx, campaign.ID, e.clock()); err != nil {
		e.log.WithField("campaignID", campaign.ID).Error("failed to mark campaign completed")
	}
	if err := e.campaigns.SetStatus(ctx, campaign.ID, domain.CampaignStatusCompleted); err != nil {
		e.log.WithField("campaignID", campaign.ID).Error("failed to set campaign status")
	}

	events <- domain.ProgressEvent{Kind: domain.ProgressKindComplete, Current: successful + failed + queued, Total: campaign.TotalRecipients, CampaignID: campaign.ID}
}

// pacePass paces the loop by pacePause. When accountID is non-empty it
// waits only on that account's rate.Limiter (one send per pacePause,
// shared by concurrently running campaigns against the account);
// otherwise it sleeps pacePause.
func (e *Executor) pacePass(ctx context.Context, accountID string) {
	if accountID != "" && e.pace != nil {
		_ = e.pace.Wait(ctx, accountID, pacePause)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(pacePause):
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func tomorrowUTC(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
