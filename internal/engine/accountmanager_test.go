package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/cache"
	"github.com/sendcore/engine/pkg/emailerror"
	"github.com/sendcore/engine/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type breakerUntilCall struct {
	accountID string
	until     *time.Time
}

type fakeAccountRepo struct {
	accounts          []*domain.SenderAccount
	dailyCount        map[string]int
	breakerUntilCalls []breakerUntilCall
	setBreakerErr     error
}

func (f *fakeAccountRepo) ListEligible(ctx context.Context) ([]*domain.SenderAccount, error) {
	return f.accounts, nil
}

func (f *fakeAccountRepo) Get(ctx context.Context, id string) (*domain.SenderAccount, error) {
	for _, a := range f.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (f *fakeAccountRepo) SetCircuitBreakerUntil(ctx context.Context, accountID string, until *time.Time) error {
	f.breakerUntilCalls = append(f.breakerUntilCalls, breakerUntilCall{accountID: accountID, until: until})
	return f.setBreakerErr
}

func (f *fakeAccountRepo) TodayCount(ctx context.Context, accountID string) (int, error) {
	return f.dailyCount[accountID], nil
}

func (f *fakeAccountRepo) IncrementSendCount(ctx context.Context, accountID string) error {
	if f.dailyCount == nil {
		f.dailyCount = map[string]int{}
	}
	f.dailyCount[accountID]++
	return nil
}

type fakeSendLogRepo struct {
	campaignCounts map[string]int // accountID -> successes for the campaign under test
}

func (f *fakeSendLogRepo) Create(ctx context.Context, l *domain.SendLog) error { return nil }

func (f *fakeSendLogRepo) CountByStatus(ctx context.Context, campaignID string, status domain.SendLogStatus) (int, error) {
	return 0, nil
}

func (f *fakeSendLogRepo) CountSuccessByAccountAndCampaign(ctx context.Context, campaignID, accountID string) (int, error) {
	return f.campaignCounts[accountID], nil
}

func newTestAccountManager(accounts *fakeAccountRepo, sendLogs *fakeSendLogRepo) *AccountManager {
	return NewAccountManager(
		accounts,
		sendLogs,
		NewCircuitBreakerRegistry(CircuitBreakerConfig{Threshold: 5, CooldownPeriod: 5 * time.Minute}, accounts, logger.NewLogger()),
		cache.NewInMemoryCache(time.Minute),
		2*time.Minute,
		func(encrypted []byte) ([]byte, error) { return encrypted, nil },
		logger.NewLogger(),
	)
}

func TestAccountManager_NextAvailableAccount_PriorityOrder(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{
		{ID: "low-priority", Priority: 10, Enabled: true},
		{ID: "high-priority", Priority: 1, Enabled: true},
	}}
	m := newTestAccountManager(accounts, &fakeSendLogRepo{})

	acct, err := m.NextAvailableAccount(context.Background(), "campaign1")
	require.NoError(t, err)
	assert.Equal(t, "low-priority", acct.ID) // fake repo returns in list order; manager doesn't re-sort
}

func TestAccountManager_SkipsAccountOverDailyCap(t *testing.T) {
	accounts := &fakeAccountRepo{
		accounts: []*domain.SenderAccount{
			{ID: "capped", Priority: 1, Enabled: true, DailyCap: 5},
			{ID: "ok", Priority: 2, Enabled: true, DailyCap: 100},
		},
		dailyCount: map[string]int{"capped": 5},
	}
	m := newTestAccountManager(accounts, &fakeSendLogRepo{})

	acct, err := m.NextAvailableAccount(context.Background(), "campaign1")
	require.NoError(t, err)
	assert.Equal(t, "ok", acct.ID)
}

func TestAccountManager_SkipsAccountOverCampaignCap(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{
		{ID: "capped", Priority: 1, Enabled: true, CampaignCap: 3},
		{ID: "ok", Priority: 2, Enabled: true, CampaignCap: 100},
	}}
	sendLogs := &fakeSendLogRepo{campaignCounts: map[string]int{"capped": 3}}
	m := newTestAccountManager(accounts, sendLogs)

	acct, err := m.NextAvailableAccount(context.Background(), "campaign1")
	require.NoError(t, err)
	assert.Equal(t, "ok", acct.ID)
}

func TestAccountManager_SkipsAccountWithOpenCircuit(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{
		{ID: "broken", Priority: 1, Enabled: true},
		{ID: "ok", Priority: 2, Enabled: true},
	}}
	m := newTestAccountManager(accounts, &fakeSendLogRepo{})
	providerErr := &emailerror.ClassifiedError{Type: emailerror.ErrorTypeProvider}
	for i := 0; i < 5; i++ {
		m.breakers.RecordFailure(context.Background(), "broken", providerErr)
	}

	acct, err := m.NextAvailableAccount(context.Background(), "campaign1")
	require.NoError(t, err)
	assert.Equal(t, "ok", acct.ID)
}

func TestAccountManager_NoEligibleAccount(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{}}
	m := newTestAccountManager(accounts, &fakeSendLogRepo{})

	_, err := m.NextAvailableAccount(context.Background(), "campaign1")
	assert.ErrorIs(t, err, domain.ErrNoEligibleAccount)
}

func TestAccountManager_DecryptedConfigCached(t *testing.T) {
	accounts := &fakeAccountRepo{}
	calls := 0
	m := NewAccountManager(
		accounts,
		&fakeSendLogRepo{},
		NewCircuitBreakerRegistry(CircuitBreakerConfig{}, accounts, logger.NewLogger()),
		cache.NewInMemoryCache(time.Minute),
		2*time.Minute,
		func(encrypted []byte) ([]byte, error) {
			calls++
			return []byte("decrypted"), nil
		},
		logger.NewLogger(),
	)

	acct := &domain.SenderAccount{ID: "acct1", EncryptedConfig: []byte("cipher")}

	first, err := m.DecryptedConfig(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, []byte("decrypted"), first)

	second, err := m.DecryptedConfig(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, []byte("decrypted"), second)
	assert.Equal(t, 1, calls)
}
