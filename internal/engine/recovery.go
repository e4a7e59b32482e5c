package engine

import (
	"context"
	"fmt"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/logger"
)

// Recovery reports campaigns left in status=sending by a crash. It
// never resumes them: the contract is observability only, matching the
// spec's explicit "not auto-resumed". An operator reconciles using the
// SendLog rows each interrupted campaign already accumulated.
type Recovery struct {
	campaigns domain.CampaignRepository
	log       logger.Logger
}

// NewRecovery wires a Recovery.
func NewRecovery(campaigns domain.CampaignRepository, log logger.Logger) *Recovery {
	return &Recovery{campaigns: campaigns, log: log.WithField("component", "recovery")}
}

// FindInterrupted lists every campaign stuck in status=sending and logs
// each one at Warn with its id and last-known counters. Intended to run
// once at process start.
func (r *Recovery) FindInterrupted(ctx context.Context) ([]*domain.Campaign, error) {
	interrupted, err := r.campaigns.ListByStatus(ctx, domain.CampaignStatusSending)
	if err != nil {
		return nil, fmt.Errorf("recovery: list interrupted campaigns: %w", err)
	}

	for _, c := range interrupted {
		r.log.WithFields(map[string]interface{}{
			"campaignID": c.ID,
			"successful": c.Successful,
			"failed":     c.Failed,
			"queued":     c.Queued,
			"total":      c.TotalRecipients,
		}).Warn("campaign interrupted by a prior crash; not auto-resumed")
	}

	return interrupted, nil
}
