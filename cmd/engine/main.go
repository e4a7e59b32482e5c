package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sendcore/engine/config"
	"github.com/sendcore/engine/internal/compiler"
	"github.com/sendcore/engine/internal/database"
	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/internal/engine"
	"github.com/sendcore/engine/internal/provider"
	"github.com/sendcore/engine/internal/store/postgres"
	"github.com/sendcore/engine/pkg/cache"
	"github.com/sendcore/engine/pkg/crypto"
	"github.com/sendcore/engine/pkg/logger"
	"github.com/sendcore/engine/pkg/tracing"
)

// osExit is a variable to allow mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogger()
	appLogger.WithField("version", cfg.Version).Info("starting delivery engine")

	if err := tracing.InitTracing(&cfg.Tracing); err != nil {
		appLogger.WithField("error", err.Error()).Fatal("failed to initialize tracing")
		osExit(1)
		return
	}

	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		appLogger.WithField("error", err.Error()).Fatal("failed to connect to database")
		osExit(1)
		return
	}
	defer db.Close()

	if err := database.InitializeDatabase(db); err != nil {
		appLogger.WithField("error", err.Error()).Fatal("failed to initialize database schema")
		osExit(1)
		return
	}
	appLogger.Info("database schema ready")

	accountRepo := postgres.NewAccountRepository(db)
	campaignRepo := postgres.NewCampaignRepository(db)
	sendLogRepo := postgres.NewSendLogRepository(db)
	queueRepo := postgres.NewQueueRepository(db)
	trackingRepo := postgres.NewTrackingTokenRepository(db)
	recurringRepo := postgres.NewRecurringCampaignRepository(db)
	sequenceRepo := postgres.NewSequenceRepository(db)
	templateRepo := postgres.NewTemplateRepository(db)

	breakers := engine.NewCircuitBreakerRegistry(engine.CircuitBreakerConfig{
		Threshold:      cfg.Engine.CircuitBreakerThreshold,
		CooldownPeriod: cfg.Engine.CircuitBreakerCooldown,
	}, accountRepo, appLogger)

	decryptedConfigCache := cache.NewInMemoryCache(cfg.Engine.DecryptedConfigTTL)
	decrypt := func(encrypted []byte) ([]byte, error) {
		plaintext, err := crypto.Decrypt(encrypted, cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt account config: %w", err)
		}
		return plaintext, nil
	}

	accounts := engine.NewAccountManager(
		accountRepo,
		sendLogRepo,
		breakers,
		decryptedConfigCache,
		cfg.Engine.DecryptedConfigTTL,
		decrypt,
		appLogger,
	)

	trackingSvc := engine.NewTrackingService(trackingRepo, cfg.Tracking.BaseURL)
	liquidCompiler := compiler.NewLiquidCompiler(templateRepo)
	providers := provider.NewFactory()
	pace := engine.NewPaceLimiter()

	executor := engine.NewExecutor(
		campaignRepo,
		sendLogRepo,
		queueRepo,
		accounts,
		trackingSvc,
		liquidCompiler,
		providers,
		pace,
		appLogger,
	)

	trackOpts := domain.TrackingOptions{
		Open:  cfg.Tracking.OpenTrack,
		Click: cfg.Tracking.ClickTrack,
	}

	queueProcessor := engine.NewQueueProcessor(
		queueRepo,
		campaignRepo,
		sendLogRepo,
		accounts,
		trackingSvc,
		liquidCompiler,
		providers,
		cfg.Tracking.BaseURL,
		trackOpts,
		appLogger,
	)

	dispatcher := engine.NewDispatcher(
		campaignRepo,
		recurringRepo,
		sequenceRepo,
		executor,
		resolveRecipients,
		cfg.Tracking.BaseURL,
		trackOpts,
		appLogger,
	)

	scheduler := engine.NewScheduler(dispatcher, queueProcessor, engine.SchedulerConfig{
		DispatchInterval: cfg.Engine.DispatchTickInterval,
		DrainInterval:    cfg.Engine.QueueDrainInterval,
	}, appLogger)

	recovery := engine.NewRecovery(campaignRepo, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	interrupted, err := recovery.FindInterrupted(startupCtx)
	cancel()
	if err != nil {
		appLogger.WithField("error", err.Error()).Error("failed to check for interrupted campaigns")
	} else if len(interrupted) > 0 {
		appLogger.WithField("count", len(interrupted)).Warn("found campaigns interrupted by a prior crash")
	}

	scheduler.Start(ctx)
	appLogger.Info("scheduler started")

	<-ctx.Done()
	appLogger.Info("shutdown signal received, stopping scheduler")
	scheduler.Stop()
	appLogger.Info("delivery engine stopped")
}

// resolveRecipients is the RecipientResolver handed to the Dispatcher. It
// fetches nothing: it returns an error for every source kind, inline, CSV
// and JSON alike, so no recurring campaign is sent through this wiring.
func resolveRecipients(ctx context.Context, source domain.RecipientSourceKind, ref string) ([]domain.Recipient, error) {
	return nil, fmt.Errorf("resolve recipients: source %q not configured (ref=%s)", source, ref)
}
