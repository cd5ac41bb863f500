package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/scheduler"
)

// RateFetcher supplies the latest rate for a pair. provider.Manager satisfies it.
type RateFetcher interface {
	FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Sink accepts committed rates.
type Sink interface {
	UpdateRate(ctx context.Context, rate decimal.Decimal) error
}

// Commit describes a rate accepted by the sink.
type Commit struct {
	ID            uuid.UUID
	Pair          Pair
	Rate          decimal.Decimal
	Previous      decimal.Decimal
	ChangePct     decimal.Decimal
	ChangeDefined bool
	Reason        Reason
	At            time.Time
}

// Observer is notified synchronously from the trigger goroutine while the
// tick lock is held. A slow observer delays the current tick and every tick
// after it, and an observer that detaches from the tick context keeps the
// tick alive after Wait or Stop gives up on it. Implementations must bound
// their own blocking work.
type Observer interface {
	Evaluated(ctx context.Context, pair Pair, rate decimal.Decimal, d Decision)
	Committed(ctx context.Context, c Commit)
	TickFailed(ctx context.Context, pair Pair, err error)
}

// Status is the lifecycle state of a trigger.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of a trigger.
type Snapshot struct {
	Pair      Pair
	Status    Status
	State     State
	Committed bool
}

// Options configure a Trigger.
type Options struct {
	Pair      Pair
	Policy    Policy
	Rates     RateFetcher
	Sink      Sink
	Observers []Observer
	// Clock overrides time.Now for decisions and commit timestamps.
	Clock func() time.Time
}

// Trigger polls a rate feed and pushes the rate to a sink whenever it has
// gone stale or moved past the configured threshold.
//
// Stop prevents new ticks but does not cancel a tick already in flight; its
// commit may land after Stop returns. Use Done to wait for it.
type Trigger struct {
	pair      Pair
	policy    Policy
	rates     RateFetcher
	sink      Sink
	observers []Observer
	now       func() time.Time
	logger    zerolog.Logger
	sched     *scheduler.Scheduler

	// tickMu serializes the initial commit and every tick.
	tickMu sync.Mutex

	mu        sync.Mutex
	status    Status
	starting  bool
	state     State
	committed bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New validates the options and returns an idle trigger.
func New(opts Options, logger zerolog.Logger) (*Trigger, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Rates == nil {
		return nil, errors.New("trigger: rate fetcher is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("trigger: sink is required")
	}
	if opts.Pair.Base == "" || opts.Pair.Quote == "" {
		return nil, errors.New("trigger: pair base and quote are required")
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	l := logger.With().Str("component", "trigger").Stringer("pair", opts.Pair).Logger()

	return &Trigger{
		pair:      opts.Pair,
		policy:    opts.Policy,
		rates:     opts.Rates,
		sink:      opts.Sink,
		observers: append([]Observer(nil), opts.Observers...),
		now:       now,
		logger:    l,
		sched:     scheduler.New(scheduler.Options{Interval: opts.Policy.PollInterval, StartupDelay: opts.Policy.StartDelay}, l),
		done:      make(chan struct{}),
	}, nil
}

// Pair returns the tracked pair.
func (t *Trigger) Pair() Pair {
	return t.pair
}

// Run fetches the current rate, commits it unconditionally and starts the
// polling loop in the background. It returns once the loop is started.
//
// A failed initial fetch returns a *FeedError and a failed initial commit a
// *SinkError; in both cases the trigger stays idle and Run may be retried.
// Cancelling ctx aborts in-flight work and leaves the trigger stopped.
func (t *Trigger) Run(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.status == StatusStopped:
		t.mu.Unlock()
		return ErrStopped
	case t.status == StatusRunning || t.starting:
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.starting = true
	t.mu.Unlock()

	if err := t.initialCommit(ctx); err != nil {
		t.mu.Lock()
		t.starting = false
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.starting = false
	if t.status == StatusStopped {
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.status = StatusRunning

	go func() {
		defer close(t.done)
		defer cancel()
		t.logger.Info().
			Dur("poll_interval", t.policy.PollInterval).
			Dur("update_interval", t.policy.UpdateInterval).
			Str("update_threshold", t.policy.UpdateThreshold.String()).
			Msg("Rate update trigger started")

		_ = t.sched.Run(loopCtx, func(_ context.Context, _ time.Time) error {
			// ticks run on ctx, not loopCtx, so Stop lets them finish
			return t.tick(ctx)
		})

		// cancelling the Run context ends the loop just like Stop
		t.mu.Lock()
		t.status = StatusStopped
		t.mu.Unlock()
		t.logger.Info().Msg("Rate update trigger stopped")
	}()

	return nil
}

// Stop ends the polling loop. It is idempotent and a no-op on a trigger that
// was never started.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.status == StatusRunning:
		t.status = StatusStopped
		t.cancel()
	case t.starting:
		t.status = StatusStopped
	}
}

// Done is closed once the polling loop has exited, including any tick that
// was in flight when Stop was called. It never closes for a trigger whose
// loop was not started.
func (t *Trigger) Done() <-chan struct{} {
	return t.done
}

// Snapshot returns the current status and committed state.
func (t *Trigger) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Pair: t.pair, Status: t.status, State: t.state, Committed: t.committed}
}

func (t *Trigger) initialCommit(ctx context.Context) error {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	ctx, cancel := t.tickContext(ctx)
	defer cancel()

	rate, err := t.rates.FetchRate(ctx, t.pair.Base, t.pair.Quote)
	if err != nil {
		return &FeedError{Pair: t.pair, Err: err}
	}
	if rate.IsZero() {
		t.logger.Warn().Msg("Initial rate is zero, every non-zero rate will be committed")
	}

	return t.commit(ctx, rate, Decision{Reason: ReasonInitial})
}

func (t *Trigger) tick(ctx context.Context) error {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	t.mu.Lock()
	stopped := t.status != StatusRunning
	state := t.state
	t.mu.Unlock()
	if stopped {
		return nil
	}

	ctx, cancel := t.tickContext(ctx)
	defer cancel()

	rate, err := t.rates.FetchRate(ctx, t.pair.Base, t.pair.Quote)
	if err != nil {
		err = &FeedError{Pair: t.pair, Err: err}
		t.notifyFailure(ctx, err)
		return err
	}

	decision := Decide(t.policy, state, rate, t.now())
	for _, o := range t.observers {
		o.Evaluated(ctx, t.pair, rate, decision)
	}

	if !decision.Commit() {
		t.logger.Debug().
			Str("rate", rate.String()).
			Str("last_committed", state.LastCommittedRate.String()).
			Str("change_pct", decision.ChangePct.StringFixed(4)).
			Msg("Rate within threshold, skipping update")
		return nil
	}

	if err := t.commit(ctx, rate, decision); err != nil {
		t.notifyFailure(ctx, err)
		return err
	}
	return nil
}

// commit pushes the rate to the sink and records it only once the sink has
// accepted it.
func (t *Trigger) commit(ctx context.Context, rate decimal.Decimal, d Decision) error {
	if err := t.sink.UpdateRate(ctx, rate); err != nil {
		return &SinkError{Rate: rate, Err: err}
	}

	at := t.now()

	t.mu.Lock()
	previous := t.state.LastCommittedRate
	if at.Before(t.state.LastCommitTime) {
		at = t.state.LastCommitTime
	}
	t.state = State{LastCommittedRate: rate, LastCommitTime: at}
	t.committed = true
	t.mu.Unlock()

	c := Commit{
		ID:            uuid.New(),
		Pair:          t.pair,
		Rate:          rate,
		Previous:      previous,
		ChangePct:     d.ChangePct,
		ChangeDefined: d.ChangeDefined,
		Reason:        d.Reason,
		At:            at,
	}

	t.logger.Info().
		Str("commit_id", c.ID.String()).
		Str("reason", string(c.Reason)).
		Str("rate", rate.String()).
		Str("previous", previous.String()).
		Str("change_pct", c.ChangePct.StringFixed(4)).
		Msg("Oracle rate updated")

	for _, o := range t.observers {
		o.Committed(ctx, c)
	}
	return nil
}

func (t *Trigger) notifyFailure(ctx context.Context, err error) {
	for _, o := range t.observers {
		o.TickFailed(ctx, t.pair, err)
	}
}

func (t *Trigger) tickContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.policy.TickTimeout > 0 {
		return context.WithTimeout(ctx, t.policy.TickTimeout)
	}
	return context.WithCancel(ctx)
}
