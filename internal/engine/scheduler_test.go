package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/cache"
	"github.com/sendcore/engine/pkg/logger"
)

func TestScheduler_TicksDispatchOnStart(t *testing.T) {
	recurring := &fakeRecurringRepo{}
	sequences := &fakeSequenceRepo{}
	d, dispatchCampaigns := newTestDispatcher(t, recurring, sequences, nil)
	past := time.Now().Add(-time.Hour)
	dispatchCampaigns.created = []*domain.Campaign{{ID: "due", Status: domain.CampaignStatusScheduled, ScheduledFor: &past}}
	dispatchCampaigns.status["due"] = domain.CampaignStatusScheduled

	accounts := &fakeAccountRepo{}
	campaigns := newFakeCampaignRepo()
	am := NewAccountManager(
		accounts, &fakeSendLogRepo{},
		NewCircuitBreakerRegistry(CircuitBreakerConfig{}, accounts, logger.NewLogger()),
		cache.NewInMemoryCache(time.Minute), time.Minute,
		func(e []byte) ([]byte, error) { return e, nil },
		logger.NewLogger(),
	)
	tracking := NewTrackingService(&fakeTrackingTokenRepo{}, "https://send.example.com")
	qp := NewQueueProcessor(&fakeQueueRepo{}, campaigns, &fakeSendLogRepoFull{}, am, tracking, &fakeCompiler{}, &fakeProviderFactory{provider: &fakeProvider{}}, "https://send.example.com", domain.TrackingOptions{}, logger.NewLogger())

	s := NewScheduler(d, qp, SchedulerConfig{DispatchInterval: 20 * time.Millisecond, DrainInterval: time.Hour}, logger.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	require.False(t, s.running)
	assert.Equal(t, domain.CampaignStatusSending, dispatchCampaigns.status["due"])
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	recurring := &fakeRecurringRepo{}
	sequences := &fakeSequenceRepo{}
	d, _ := newTestDispatcher(t, recurring, sequences, nil)

	accounts := &fakeAccountRepo{}
	campaigns := newFakeCampaignRepo()
	am := NewAccountManager(
		accounts, &fakeSendLogRepo{},
		NewCircuitBreakerRegistry(CircuitBreakerConfig{}, accounts, logger.NewLogger()),
		cache.NewInMemoryCache(time.Minute), time.Minute,
		func(e []byte) ([]byte, error) { return e, nil },
		logger.NewLogger(),
	)
	tracking := NewTrackingService(&fakeTrackingTokenRepo{}, "https://send.example.com")
	qp := NewQueueProcessor(&fakeQueueRepo{}, campaigns, &fakeSendLogRepoFull{}, am, tracking, &fakeCompiler{}, &fakeProviderFactory{provider: &fakeProvider{}}, "https://send.example.com", domain.TrackingOptions{}, logger.NewLogger())

	s := NewScheduler(d, qp, DefaultSchedulerConfig(), logger.NewLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // second call should warn and no-op, not panic or double-run
	s.Stop()

	assert.False(t, s.running)
}
