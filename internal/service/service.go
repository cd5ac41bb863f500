package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/config"
	"rate-oracle-updater/internal/oracle"
	"rate-oracle-updater/internal/provider"
	"rate-oracle-updater/internal/storage"
	"rate-oracle-updater/internal/trigger"
)

// ErrLockHeld is returned by Start when another instance already drives the pair.
var ErrLockHeld = errors.New("service: pair is locked by another instance")

// Oracle is the on-chain side of the updater.
type Oracle interface {
	CurrentState(ctx context.Context) (oracle.State, error)
	UpdateRate(ctx context.Context, rate decimal.Decimal) error
}

// Dependencies are the collaborators of a RateUpdater. Locker and Observers
// are optional.
type Dependencies struct {
	Rates     trigger.RateFetcher
	Oracle    Oracle
	Locker    storage.AdvisoryLocker
	Observers []trigger.Observer
}

// RateUpdater drives one trigger for the configured pair.
type RateUpdater struct {
	pair    trigger.Pair
	oracle  Oracle
	locker  storage.AdvisoryLocker
	trigger *trigger.Trigger
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	unlock  func()
	started bool
}

// New validates the trigger settings and builds an idle updater.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*RateUpdater, error) {
	if cfg.Oracle.Account == "" {
		return nil, &config.ConfigError{Field: "oracle.account", Err: config.ErrMissing}
	}
	if deps.Oracle == nil {
		return nil, errors.New("service: oracle is required")
	}

	l := logger.With().Str("component", "service").Logger()
	if cfg.PollExceedsUpdateInterval() {
		l.Warn().
			Dur("poll_interval", cfg.Trigger.PollInterval).
			Dur("update_interval", cfg.Trigger.UpdateInterval).
			Msg("Poll interval exceeds update interval, staleness bound cannot be honoured")
	}

	pair := trigger.Pair{Base: cfg.Trigger.Pair.Base, Quote: cfg.Trigger.Pair.Quote}
	if pair.Quote == "" {
		pair.Quote = provider.DefaultQuote
	}
	trig, err := trigger.New(trigger.Options{
		Pair:      pair,
		Policy:    PolicyFromConfig(cfg.Trigger),
		Rates:     deps.Rates,
		Sink:      deps.Oracle,
		Observers: deps.Observers,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &RateUpdater{
		pair:    pair,
		oracle:  deps.Oracle,
		locker:  deps.Locker,
		trigger: trig,
		logger:  l.With().Stringer("pair", pair).Logger(),
	}, nil
}

// PolicyFromConfig converts the configured trigger section.
func PolicyFromConfig(cfg config.TriggerConfig) trigger.Policy {
	return trigger.Policy{
		UpdateThreshold: decimal.NewFromFloat(cfg.UpdateThreshold),
		PollInterval:    cfg.PollInterval,
		UpdateInterval:  cfg.UpdateInterval,
		TickTimeout:     cfg.TickTimeout,
		StartDelay:      cfg.StartDelay,
	}
}

// Start logs the on-chain state, takes the pair lock when a locker is
// configured and runs the trigger. The on-chain state is informational only;
// the trigger always starts with an unconditional commit.
func (s *RateUpdater) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return trigger.ErrAlreadyRunning
	}

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}

	current, err := s.oracle.CurrentState(ctx)
	if err != nil {
		unlock()
		return fmt.Errorf("read oracle state: %w", err)
	}
	s.logger.Info().
		Str("rate", current.Rate.String()).
		Time("updated_at", current.UpdatedAt).
		Msg("Current oracle state")

	// Stop ends the loop gracefully; runCtx is only cancelled to abandon a
	// tick that outlives Wait's deadline.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.trigger.Run(runCtx); err != nil {
		cancel()
		unlock()
		return err
	}

	s.cancel = cancel
	s.unlock = unlock
	s.started = true
	return nil
}

// Stop prevents further ticks. A tick in flight may still commit; use Wait
// to block until it has finished.
func (s *RateUpdater) Stop() {
	s.trigger.Stop()
}

// Wait blocks until the trigger loop has exited and releases the pair lock.
// When ctx expires first the in-flight tick is cancelled.
func (s *RateUpdater) Wait(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	unlock := s.unlock
	s.mu.Unlock()
	if !started {
		return nil
	}

	var err error
	select {
	case <-s.trigger.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("In-flight tick did not finish in time, cancelling")
		cancel()
		<-s.trigger.Done()
		err = ctx.Err()
	}

	cancel()
	unlock()
	return err
}

// Snapshot reports the trigger status and last commit.
func (s *RateUpdater) Snapshot() trigger.Snapshot {
	return s.trigger.Snapshot()
}

func (s *RateUpdater) acquireLock(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	key := storage.AdvisoryKey(s.pair.String())
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}
