// Package engine implements the Account Manager, Campaign Executor, Queue
// Processor, and Scheduler that together make up the delivery engine.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sendcore/engine/internal/domain"
	"github.com/sendcore/engine/pkg/emailerror"
	"github.com/sendcore/engine/pkg/logger"
)

// CircuitBreakerConfig holds configuration shared by every account's breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of provider failures before opening the circuit.
	Threshold int

	// CooldownPeriod is how long to wait before attempting to close the circuit.
	CooldownPeriod time.Duration
}

// DefaultCircuitBreakerConfig returns the spec defaults: 5 consecutive
// provider failures opens the circuit for 5 minutes.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:      5,
		CooldownPeriod: 5 * time.Minute,
	}
}

// circuitBreaker is a single account's circuit state.
type circuitBreaker struct {
	failures       int
	threshold      int
	cooldownPeriod time.Duration
	lastFailure    time.Time
	lastError      *emailerror.ClassifiedError
	isOpen         bool
	mutex          sync.RWMutex
}

func newCircuitBreaker(threshold int, cooldownPeriod time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold:      threshold,
		cooldownPeriod: cooldownPeriod,
	}
}

// IsOpen reports whether the circuit is blocking calls. A circuit past its
// cooldown auto-resets on the next check rather than requiring an explicit
// half-open probe.
func (cb *circuitBreaker) IsOpen() bool {
	cb.mutex.RLock()
	if !cb.isOpen {
		cb.mutex.RUnlock()
		return false
	}
	pastCooldown := time.Since(cb.lastFailure) > cb.cooldownPeriod
	cb.mutex.RUnlock()

	if !pastCooldown {
		return true
	}

	cb.mutex.Lock()
	if cb.isOpen && time.Since(cb.lastFailure) > cb.cooldownPeriod {
		cb.isOpen = false
		cb.failures = 0
		cb.lastError = nil
	}
	stillOpen := cb.isOpen
	cb.mutex.Unlock()

	return stillOpen
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.lastError = nil
	cb.isOpen = false
}

// RecordFailure counts a provider failure. It reports openUntil and true
// the moment the breaker crosses its threshold and opens, so the caller
// can persist the cooldown exactly once per open transition.
func (cb *circuitBreaker) RecordFailure(classifiedErr *emailerror.ClassifiedError) (openUntil time.Time, justOpened bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	cb.lastError = classifiedErr

	if !cb.isOpen && cb.failures >= cb.threshold {
		cb.isOpen = true
		justOpened = true
		openUntil = cb.lastFailure.Add(cb.cooldownPeriod)
	}
	return
}

// hydrateOpenUntil seeds a freshly constructed, never-yet-touched breaker
// so that an account row's persisted cooldown survives a process restart.
// Only the cooldown is resumed; failures stays 0, matching the spec's
// "forgives prior failures but not prior cooldowns" rule. It is a no-op
// once the breaker already has live state, so a concurrent real failure
// never gets clobbered by a late hydration call.
func (cb *circuitBreaker) hydrateOpenUntil(openUntil time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.isOpen || cb.failures != 0 || !openUntil.After(time.Now()) {
		return
	}
	cb.isOpen = true
	cb.lastFailure = openUntil.Add(-cb.cooldownPeriod)
}

func (cb *circuitBreaker) GetLastError() *emailerror.ClassifiedError {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.lastError
}

func (cb *circuitBreaker) GetFailures() int {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.failures
}

// CircuitBreakerStats is a point-in-time snapshot of one account's breaker.
type CircuitBreakerStats struct {
	IsOpen       bool
	Failures     int
	Threshold    int
	LastFailure  time.Time
	CooldownLeft time.Duration
}

// CircuitBreakerRegistry tracks one circuitBreaker per sender account.
// Opening an account's circuit means the Account Manager skips it during
// candidate selection until the cooldown elapses; it never blocks the
// account's in-flight send, only future ones.
type CircuitBreakerRegistry struct {
	breakers sync.Map // accountID -> *circuitBreaker
	config   CircuitBreakerConfig
	accounts domain.AccountRepository
	log      logger.Logger
}

// NewCircuitBreakerRegistry builds a registry backed by accounts, used to
// persist circuit_breaker_until on open and to hydrate it back on first
// access after a restart. A zero Threshold or CooldownPeriod falls back
// to DefaultCircuitBreakerConfig's values.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, accounts domain.AccountRepository, log logger.Logger) *CircuitBreakerRegistry {
	if config.Threshold == 0 {
		config.Threshold = 5
	}
	if config.CooldownPeriod == 0 {
		config.CooldownPeriod = 5 * time.Minute
	}
	return &CircuitBreakerRegistry{
		config:   config,
		accounts: accounts,
		log:      log.WithField("component", "circuit_breaker"),
	}
}

// HydrateFromAccount seeds accountID's breaker from acct's persisted
// cooldown the first time the registry sees it, so an account whose
// cooldown hasn't elapsed yet stays excluded from selection across a
// restart. Safe to call on every selection pass: once a breaker is
// already tracked in memory, this is a no-op.
func (r *CircuitBreakerRegistry) HydrateFromAccount(acct *domain.SenderAccount) {
	if acct == nil || acct.CircuitBreakerUntil == nil {
		return
	}
	if _, tracked := r.breakers.Load(acct.ID); tracked {
		return
	}
	r.getOrCreate(acct.ID).hydrateOpenUntil(*acct.CircuitBreakerUntil)
}

func (r *CircuitBreakerRegistry) getOrCreate(accountID string) *circuitBreaker {
	if cb, ok := r.breakers.Load(accountID); ok {
		return cb.(*circuitBreaker)
	}
	created := newCircuitBreaker(r.config.Threshold, r.config.CooldownPeriod)
	actual, _ := r.breakers.LoadOrStore(accountID, created)
	return actual.(*circuitBreaker)
}

// IsOpen reports whether accountID's circuit is currently blocking selection.
func (r *CircuitBreakerRegistry) IsOpen(accountID string) bool {
	if cb, ok := r.breakers.Load(accountID); ok {
		return cb.(*circuitBreaker).IsOpen()
	}
	return false
}

// RecordSuccess resets accountID's failure count.
func (r *CircuitBreakerRegistry) RecordSuccess(accountID string) {
	r.getOrCreate(accountID).RecordSuccess()
}

// RecordFailure records classifiedErr against accountID's breaker. Only
// provider-class errors count toward the threshold; recipient-class errors
// (bad address, mailbox full) say nothing about the sending account's
// health, so they're recorded in SendLog but never trip the breaker. Returns
// whether the failure was counted.
//
// The moment the breaker opens, circuit_breaker_until is persisted to the
// account row with a single UPDATE so a restart resumes the cooldown; a
// write failure is logged and swallowed rather than surfaced to the
// caller, matching the error-handling table's treatment of best-effort
// bookkeeping writes.
func (r *CircuitBreakerRegistry) RecordFailure(ctx context.Context, accountID string, classifiedErr *emailerror.ClassifiedError) bool {
	if classifiedErr == nil || classifiedErr.IsRecipientError() {
		return false
	}

	openUntil, justOpened := r.getOrCreate(accountID).RecordFailure(classifiedErr)
	if justOpened && r.accounts != nil {
		until := openUntil
		if err := r.accounts.SetCircuitBreakerUntil(ctx, accountID, &until); err != nil {
			r.log.WithField("accountID", accountID).WithField("error", err.Error()).
				Error("failed to persist circuit breaker cooldown")
		}
	}
	return true
}

// GetLastError returns the last classified error recorded for accountID.
func (r *CircuitBreakerRegistry) GetLastError(accountID string) *emailerror.ClassifiedError {
	if cb, ok := r.breakers.Load(accountID); ok {
		return cb.(*circuitBreaker).GetLastError()
	}
	return nil
}

// Config returns the registry's shared threshold/cooldown.
func (r *CircuitBreakerRegistry) Config() CircuitBreakerConfig {
	return r.config
}

// Stats snapshots every tracked account's breaker state.
func (r *CircuitBreakerRegistry) Stats() map[string]CircuitBreakerStats {
	stats := make(map[string]CircuitBreakerStats)
	r.breakers.Range(func(key, value interface{}) bool {
		accountID := key.(string)
		cb := value.(*circuitBreaker)

		cb.mutex.RLock()
		stat := CircuitBreakerStats{
			IsOpen:    cb.isOpen,
			Failures:  cb.failures,
			Threshold: cb.threshold,
		}
		if !cb.lastFailure.IsZero() {
			stat.LastFailure = cb.lastFailure
			if cb.isOpen {
				if left := cb.cooldownPeriod - time.Since(cb.lastFailure); left > 0 {
					stat.CooldownLeft = left
				}
			}
		}
		cb.mutex.RUnlock()

		stats[accountID] = stat
		return true
	})
	return stats
}

// Remove drops accountID's breaker entirely, e.g. after the account is deleted.
func (r *CircuitBreakerRegistry) Remove(accountID string) {
	r.breakers.Delete(accountID)
}
