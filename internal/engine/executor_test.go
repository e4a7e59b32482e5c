package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/cache"
	"github.com/sendcore/engine/pkg/logger"
)

type fakeCampaignRepo struct {
	mu         sync.Mutex
	created    []*domain.Campaign
	successful map[string]int
	failed     map[string]int
	queued     map[string]int
	status     map[string]domain.CampaignStatus
	completed  map[string]bool
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		successful: map[string]int{}, failed: map[string]int{}, queued: map[string]int{},
		status: map[string]domain.CampaignStatus{}, completed: map[string]bool{},
	}
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, c)
	f.status[c.ID] = c.Status
	return nil
}
func (f *fakeCampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range f.created {
		if f.status[c.ID] == status {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCampaignRepo) SetStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = status
	return nil
}
func (f *fakeCampaignRepo) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	return nil
}
func (f *fakeCampaignRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = true
	return nil
}
func (f *fakeCampaignRepo) IncrementSuccessful(ctx context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successful[id] += delta
	return nil
}
func (f *fakeCampaignRepo) IncrementFailed(ctx context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] += delta
	return nil
}
func (f *fakeCampaignRepo) IncrementQueued(ctx context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[id] += delta
	return nil
}
func (f *fakeCampaignRepo) DecrementQueued(ctx context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[id] -= delta
	return nil
}

type fakeSendLogRepoFull struct {
	mu   sync.Mutex
	logs []*domain.SendLog
}

func (f *fakeSendLogRepoFull) Create(ctx context.Context, l *domain.SendLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	return nil
}
func (f *fakeSendLogRepoFull) CountByStatus(ctx context.Context, campaignID string, status domain.SendLogStatus) (int, error) {
	return 0, nil
}
func (f *fakeSendLogRepoFull) CountSuccessByAccountAndCampaign(ctx context.Context, campaignID, accountID string) (int, error) {
	return 0, nil
}

type fakeQueueRepo struct {
	mu      sync.Mutex
	entries []*domain.QueueEntry
}

func (f *fakeQueueRepo) Create(ctx context.Context, e *domain.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeQueueRepo) ListPending(ctx context.Context, asOf time.Time) ([]*domain.QueueEntry, error) {
	return f.entries, nil
}
func (f *fakeQueueRepo) MarkSent(ctx context.Context, id string) error   { return nil }
func (f *fakeQueueRepo) MarkFailed(ctx context.Context, id string) error { return nil }

type fakeCompiler struct {
	failCompile bool
}

func (f *fakeCompiler) Compile(ctx context.Context, templateRef string, data map[string]string, baseURL string) (string, error) {
	if f.failCompile {
		return "", domain.ErrTemplateNotFound
	}
	return "<html><body>hi " + data["name"] + `<a href="https://example.com">link</a></body></html>`, nil
}
func (f *fakeCompiler) InjectTracking(html, token, baseURL string, opts domain.TrackingOptions) (string, error) {
	return html + "<!--tracked:" + token + "-->", nil
}
func (f *fakeCompiler) SubstituteSubject(subject string, data map[string]string) string {
	return subject
}

type fakeProvider struct {
	shouldFail bool
	sent       []domain.Message
	mu         sync.Mutex
}

func (p *fakeProvider) Send(ctx context.Context, msg domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shouldFail {
		return errors.New("550 mailbox unavailable")
	}
	p.sent = append(p.sent, msg)
	return nil
}
func (p *fakeProvider) Verify(ctx context.Context) error { return nil }
func (p *fakeProvider) Close() error                     { return nil }

type fakeProviderFactory struct {
	provider *fakeProvider
}

func (f *fakeProviderFactory) New(kind domain.ProviderKind, decryptedConfig []byte) (domain.Provider, error) {
	return f.provider, nil
}

func newTestExecutor(accounts *fakeAccountRepo, campaigns *fakeCampaignRepo, sendLogs *fakeSendLogRepoFull, queue *fakeQueueRepo, compiler domain.Compiler, prov *fakeProvider) *Executor {
	am := NewAccountManager(
		accounts,
		&fakeSendLogRepo{},
		NewCircuitBreakerRegistry(CircuitBreakerConfig{Threshold: 5, CooldownPeriod: 5 * time.Minute}, accounts, logger.NewLogger()),
		cache.NewInMemoryCache(time.Minute),
		time.Minute,
		func(encrypted []byte) ([]byte, error) { return encrypted, nil },
		logger.NewLogger(),
	)
	tracking := NewTrackingService(&fakeTrackingTokenRepo{}, "https://send.example.com")
	return NewExecutor(campaigns, sendLogs, queue, am, tracking, compiler, &fakeProviderFactory{provider: prov}, NewPaceLimiter(), logger.NewLogger())
}

func drain(t *testing.T, events <-chan domain.ProgressEvent, timeout time.Duration) []domain.ProgressEvent {
	t.Helper()
	var got []domain.ProgressEvent
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-deadline:
			t.Fatal("timed out waiting for campaign events")
			return got
		}
	}
}

func TestExecutor_RunCampaign_AllSuccess(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{
		{ID: "acct1", Name: "Primary", Priority: 1, Enabled: true, ProviderKind: domain.ProviderKindSMTP},
	}}
	campaigns := newFakeCampaignRepo()
	sendLogs := &fakeSendLogRepoFull{}
	queue := &fakeQueueRepo{}
	prov := &fakeProvider{}
	exec := newTestExecutor(accounts, campaigns, sendLogs, queue, &fakeCompiler{}, prov)

	events := exec.RunCampaign(context.Background(), CampaignParams{
		Name:        "welcome",
		TemplateRef: "welcome",
		Subject:     "Hi {{name}}",
		Recipients: []domain.Recipient{
			{Email: "a@example.com", Data: map[string]string{"name": "Ada"}},
			{Email: "b@example.com", Data: map[string]string{"name": "Bo"}},
		},
		BaseURL: "https://send.example.com",
	})

	got := drain(t, events, 5*time.Second)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, domain.ProgressKindComplete, last.Kind)

	require.Len(t, campaigns.created, 1)
	campaignID := campaigns.created[0].ID
	assert.Equal(t, 2, campaigns.successful[campaignID])
	assert.Equal(t, domain.CampaignStatusCompleted, campaigns.status[campaignID])
	assert.True(t, campaigns.completed[campaignID])
	assert.Len(t, prov.sent, 2)
	assert.Len(t, sendLogs.logs, 2)
	for _, l := range sendLogs.logs {
		assert.Equal(t, domain.SendLogStatusSuccess, l.Status)
	}
}

func TestExecutor_RunCampaign_NoEligibleAccount_Queues(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{}}
	campaigns := newFakeCampaignRepo()
	sendLogs := &fakeSendLogRepoFull{}
	queue := &fakeQueueRepo{}
	exec := newTestExecutor(accounts, campaigns, sendLogs, queue, &fakeCompiler{}, &fakeProvider{})

	events := exec.RunCampaign(context.Background(), CampaignParams{
		TemplateRef: "welcome",
		Subject:     "Hi",
		Recipients:  []domain.Recipient{{Email: "a@example.com"}},
	})

	got := drain(t, events, 5*time.Second)
	last := got[len(got)-1]
	assert.Equal(t, domain.ProgressKindComplete, last.Kind)

	campaignID := campaigns.created[0].ID
	assert.Equal(t, 1, campaigns.queued[campaignID])
	require.Len(t, queue.entries, 1)
	assert.Equal(t, "a@example.com", queue.entries[0].RecipientEmail)
	require.Len(t, sendLogs.logs, 1)
	assert.Equal(t, domain.SendLogStatusQueued, sendLogs.logs[0].Status)
	assert.Nil(t, sendLogs.logs[0].AccountID)
}

func TestExecutor_RunCampaign_ProviderFailureContinues(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{
		{ID: "acct1", Name: "Primary", Priority: 1, Enabled: true, ProviderKind: domain.ProviderKindSMTP},
	}}
	campaigns := newFakeCampaignRepo()
	sendLogs := &fakeSendLogRepoFull{}
	queue := &fakeQueueRepo{}
	prov := &fakeProvider{shouldFail: true}
	exec := newTestExecutor(accounts, campaigns, sendLogs, queue, &fakeCompiler{}, prov)

	events := exec.RunCampaign(context.Background(), CampaignParams{
		TemplateRef: "welcome",
		Subject:     "Hi",
		Recipients: []domain.Recipient{
			{Email: "a@example.com"},
			{Email: "b@example.com"},
		},
	})

	got := drain(t, events, 5*time.Second)
	last := got[len(got)-1]
	assert.Equal(t, domain.ProgressKindComplete, last.Kind)

	campaignID := campaigns.created[0].ID
	assert.Equal(t, 2, campaigns.failed[campaignID])
	require.Len(t, sendLogs.logs, 2)
	for _, l := range sendLogs.logs {
		assert.Equal(t, domain.SendLogStatusFailed, l.Status)
	}
}

func TestExecutor_RunCampaign_FatalCompileErrorEmitsError(t *testing.T) {
	accounts := &fakeAccountRepo{accounts: []*domain.SenderAccount{
		{ID: "acct1", Name: "Primary", Priority: 1, Enabled: true, ProviderKind: domain.ProviderKindSMTP},
	}}
	campaigns := newFakeCampaignRepo()
	sendLogs := &fakeSendLogRepoFull{}
	queue := &fakeQueueRepo{}
	exec := newTestExecutor(accounts, campaigns, sendLogs, queue, &fakeCompiler{failCompile: true}, &fakeProvider{})

	events := exec.RunCampaign(context.Background(), CampaignParams{
		TemplateRef: "missing",
		Subject:     "Hi",
		Recipients:  []domain.Recipient{{Email: "a@example.com"}},
	})

	got := drain(t, events, 5*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ProgressKindError, got[0].Kind)
}
