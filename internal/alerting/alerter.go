package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/storage"
	"rate-oracle-updater/internal/trigger"
)

const notifyTimeout = 10 * time.Second

// Options 控制何时发送告警。
type Options struct {
	// NotifyCommits sends a message for every accepted commit.
	NotifyCommits bool
	// FailureStreak is the number of consecutive failed ticks that raises an
	// alert; zero disables failure alerts.
	FailureStreak int
	Channels      []string
}

// Alerter 把触发器事件转换为告警。
type Alerter struct {
	notifier Notifier
	audit    storage.AlertStore
	opts     Options
	logger   zerolog.Logger

	mu        sync.Mutex
	failures  int
	firstFail time.Time
}

// NewAlerter wires a notifier; audit may be nil.
func NewAlerter(notifier Notifier, audit storage.AlertStore, opts Options, logger zerolog.Logger) *Alerter {
	return &Alerter{
		notifier: notifier,
		audit:    audit,
		opts:     opts,
		logger:   logger.With().Str("component", "alerter").Logger(),
	}
}

// Evaluated ends a failure streak when a tick completes without needing a
// commit. A commit decision leaves the streak alone until the sink answers.
func (a *Alerter) Evaluated(_ context.Context, _ trigger.Pair, _ decimal.Decimal, d trigger.Decision) {
	if d.Commit() {
		return
	}
	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()
}

func (a *Alerter) Committed(ctx context.Context, c trigger.Commit) {
	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()

	if !a.opts.NotifyCommits {
		return
	}

	note := Notification{
		Kind:     KindCommit,
		Pair:     c.Pair.String(),
		At:       c.At,
		Rate:     c.Rate,
		Previous: c.Previous,
		Reason:   string(c.Reason),
	}
	if c.ChangeDefined && c.Reason != trigger.ReasonInitial {
		change := c.ChangePct
		note.ChangePct = &change
	}
	a.dispatch(ctx, note)
}

func (a *Alerter) TickFailed(ctx context.Context, pair trigger.Pair, err error) {
	if a.opts.FailureStreak <= 0 {
		return
	}

	a.mu.Lock()
	a.failures++
	if a.failures == 1 {
		a.firstFail = time.Now()
	}
	failures := a.failures
	since := a.firstFail
	a.mu.Unlock()

	// one alert per streak
	if failures != a.opts.FailureStreak {
		return
	}

	a.dispatch(ctx, Notification{
		Kind:      KindFailure,
		Pair:      pair.String(),
		At:        since,
		Failures:  failures,
		LastError: err.Error(),
	})
}

func (a *Alerter) dispatch(ctx context.Context, note Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := a.notifier.Notify(ctx, note); err != nil {
		a.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("Failed to send alert")
		return
	}

	if a.audit == nil {
		return
	}
	rec := storage.AlertRecord{
		Pair:     note.Pair,
		Kind:     string(note.Kind),
		Message:  renderMessage(note),
		Channels: a.opts.Channels,
	}
	if _, err := a.audit.InsertAlert(ctx, rec); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to record alert")
	}
}

var _ trigger.Observer = (*Alerter)(nil)
