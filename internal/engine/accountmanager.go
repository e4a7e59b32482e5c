package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/cache"
	"github.com/sendcore/engine/pkg/emailerror"
	"github.com/sendcore/engine/pkg/logger"
)

// AccountManager selects the next eligible SenderAccount for a campaign's
// recipient and tracks the counters that gate eligibility: a day's global
// send volume (DailyCap), a single campaign's volume through one account
// (CampaignCap), and the circuit breaker opened by repeated provider
// failures.
type AccountManager struct {
	accounts        domain.AccountRepository
	sendLogs        domain.SendLogRepository
	breakers        *CircuitBreakerRegistry
	decryptedConfig cache.Cache
	decryptedTTL    time.Duration
	decrypt         func(encrypted []byte) ([]byte, error)
	log             logger.Logger
}

// NewAccountManager wires an AccountManager. decrypt turns a SenderAccount's
// EncryptedConfig into a provider-ready config; its output is cached for
// decryptedTTL so the secret key is touched once per account per window
// rather than on every send.
func NewAccountManager(
	accounts domain.AccountRepository,
	sendLogs domain.SendLogRepository,
	breakers *CircuitBreakerRegistry,
	decryptedConfig cache.Cache,
	decryptedTTL time.Duration,
	decrypt func(encrypted []byte) ([]byte, error),
	log logger.Logger,
) *AccountManager {
	return &AccountManager{
		accounts:        accounts,
		sendLogs:        sendLogs,
		breakers:        breakers,
		decryptedConfig: decryptedConfig,
		decryptedTTL:    decryptedTTL,
		decrypt:         decrypt,
		log:             log.WithField("component", "account_manager"),
	}
}

// NextAvailableAccount walks enabled accounts in priority order (lower
// Priority value first) and returns the first one whose circuit is closed,
// whose daily cap has room, and whose campaignID-scoped cap has room. It
// returns domain.ErrNoEligibleAccount when every candidate is disqualified.
func (m *AccountManager) NextAvailableAccount(ctx context.Context, campaignID string) (*domain.SenderAccount, error) {
	candidates, err := m.accounts.ListEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("account manager: list eligible: %w", err)
	}

	for _, acct := range candidates {
		m.breakers.HydrateFromAccount(acct)
		if m.breakers.IsOpen(acct.ID) {
			continue
		}

		dailyCount, err := m.accounts.TodayCount(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("account manager: today count for %s: %w", acct.ID, err)
		}
		if acct.DailyCap > 0 && dailyCount >= acct.DailyCap {
			continue
		}

		if acct.CampaignCap > 0 {
			campaignCount, err := m.sendLogs.CountSuccessByAccountAndCampaign(ctx, campaignID, acct.ID)
			if err != nil {
				return nil, fmt.Errorf("account manager: campaign count for %s: %w", acct.ID, err)
			}
			if campaignCount >= acct.CampaignCap {
				continue
			}
		}

		return acct, nil
	}

	return nil, domain.ErrNoEligibleAccount
}

// RecordSend increments accountID's daily counter. Call once per
// successful send; CampaignCap is likewise scoped to successes, per
// CountSuccessByAccountAndCampaign.
func (m *AccountManager) RecordSend(ctx context.Context, accountID string) error {
	return m.accounts.IncrementSendCount(ctx, accountID)
}

// DecryptedConfig returns accountID's decrypted provider config, serving
// from cache when the previous decrypt is still within TTL.
func (m *AccountManager) DecryptedConfig(ctx context.Context, acct *domain.SenderAccount) ([]byte, error) {
	cacheKey := "account_config:" + acct.ID

	value, err := m.decryptedConfig.GetOrSet(cacheKey, m.decryptedTTL, func() (interface{}, error) {
		plain, err := m.decrypt(acct.EncryptedConfig)
		if err != nil {
			m.log.WithField("accountID", acct.ID).Error("failed to decrypt sender account config")
			return nil, domain.ErrDecryptionFailed
		}
		return plain, nil
	})
	if err != nil {
		return nil, err
	}

	return value.([]byte), nil
}

// RecordFailure routes a classified send error to the breaker. Returns
// whether the failure counted toward the breaker's threshold.
func (m *AccountManager) RecordFailure(ctx context.Context, accountID string, classifiedErr *emailerror.ClassifiedError) bool {
	return m.breakers.RecordFailure(ctx, accountID, classifiedErr)
}

// RecordSuccess resets accountID's breaker failure count.
func (m *AccountManager) RecordSuccess(accountID string) {
	m.breakers.RecordSuccess(accountID)
}
