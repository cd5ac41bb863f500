package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/config"
	"rate-oracle-updater/internal/oracle"
	"rate-oracle-updater/internal/provider"
	"rate-oracle-updater/internal/trigger"
)

type fakeOracle struct {
	mu       sync.Mutex
	state    oracle.State
	stateErr error
	updates  []decimal.Decimal
	block    chan struct{}
}

func (f *fakeOracle) CurrentState(ctx context.Context) (oracle.State, error) {
	return f.state, f.stateErr
}

func (f *fakeOracle) UpdateRate(ctx context.Context, rate decimal.Decimal) error {
	f.mu.Lock()
	first := len(f.updates) == 0
	f.updates = append(f.updates, rate)
	f.mu.Unlock()

	if f.block != nil && !first {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeOracle) Updates() []decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]decimal.Decimal(nil), f.updates...)
}

type fakeLocker struct {
	acquired bool
	err      error
	key      int64
	unlocked int
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	f.key = key
	if f.err != nil || !f.acquired {
		return nil, false, f.err
	}
	return func() { f.unlocked++ }, true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Trigger: config.TriggerConfig{
			Pair:            config.PairConfig{Base: "BTC", Quote: "USD"},
			UpdateThreshold: 1,
			PollInterval:    time.Hour,
			UpdateInterval:  2 * time.Hour,
		},
		Oracle: config.OracleConfig{Account: "0x0000000000000000000000000000000000000001"},
	}
}

func TestStartCommitsInitialRate(t *testing.T) {
	orc := &fakeOracle{state: oracle.State{Rate: decimal.NewFromInt(100), UpdatedAt: time.Now()}}
	locker := &fakeLocker{acquired: true}
	svc, err := New(testConfig(), Dependencies{
		Rates:  provider.NewStatic(decimal.NewFromInt(101)),
		Oracle: orc,
		Locker: locker,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if updates := orc.Updates(); len(updates) != 1 || !updates[0].Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected initial commit of the feed rate, got %v", updates)
	}
	if snap := svc.Snapshot(); snap.Status != trigger.StatusRunning {
		t.Fatalf("expected running trigger, got %s", snap.Status)
	}
	if err := svc.Start(context.Background()); !errors.Is(err, trigger.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	svc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if locker.unlocked != 1 {
		t.Fatalf("expected lock released once, got %d", locker.unlocked)
	}
	if snap := svc.Snapshot(); snap.Status != trigger.StatusStopped {
		t.Fatalf("expected stopped trigger, got %s", snap.Status)
	}
}

func TestStartFailsWhenLockHeld(t *testing.T) {
	orc := &fakeOracle{}
	svc, err := New(testConfig(), Dependencies{
		Rates:  provider.NewStatic(decimal.NewFromInt(1)),
		Oracle: orc,
		Locker: &fakeLocker{acquired: false},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := svc.Start(context.Background()); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if len(orc.Updates()) != 0 {
		t.Fatalf("no commit expected without the lock")
	}
}

func TestStartPropagatesOracleStateError(t *testing.T) {
	locker := &fakeLocker{acquired: true}
	svc, err := New(testConfig(), Dependencies{
		Rates:  provider.NewStatic(decimal.NewFromInt(1)),
		Oracle: &fakeOracle{stateErr: errors.New("rpc down")},
		Locker: locker,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if locker.unlocked != 1 {
		t.Fatalf("lock must be released on failure")
	}
}

func TestStartPropagatesFeedError(t *testing.T) {
	svc, err := New(testConfig(), Dependencies{
		Rates:  provider.NewManager(),
		Oracle: &fakeOracle{},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = svc.Start(context.Background())
	var fe *trigger.FeedError
	if !errors.As(err, &fe) || !errors.Is(err, provider.ErrNotInitialized) {
		t.Fatalf("expected FeedError wrapping ErrNotInitialized, got %v", err)
	}
	if err := svc.Wait(context.Background()); err != nil {
		t.Fatalf("wait on unstarted service: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig()
	cfg.Oracle.Account = ""
	_, err := New(cfg, Dependencies{Rates: provider.NewStatic(), Oracle: &fakeOracle{}}, zerolog.Nop())
	var cfgErr *config.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "oracle.account" {
		t.Fatalf("expected oracle.account ConfigError, got %v", err)
	}

	cfg = testConfig()
	cfg.Trigger.UpdateThreshold = 0
	_, err = New(cfg, Dependencies{Rates: provider.NewStatic(), Oracle: &fakeOracle{}}, zerolog.Nop())
	if !errors.As(err, &cfgErr) || cfgErr.Field != "trigger.update_threshold" {
		t.Fatalf("expected update_threshold ConfigError, got %v", err)
	}
}

func TestWaitCancelsHungTick(t *testing.T) {
	cfg := testConfig()
	cfg.Trigger.PollInterval = 5 * time.Millisecond
	orc := &fakeOracle{block: make(chan struct{})}

	var mu sync.Mutex
	next := int64(1)
	rates := rateFunc(func() decimal.Decimal {
		mu.Lock()
		defer mu.Unlock()
		next *= 2
		return decimal.NewFromInt(next)
	})

	svc, err := New(cfg, Dependencies{Rates: rates, Oracle: orc}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(orc.Updates()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("tick never reached the oracle")
		}
		time.Sleep(time.Millisecond)
	}

	svc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type rateFunc func() decimal.Decimal

func (f rateFunc) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	return f(), nil
}
