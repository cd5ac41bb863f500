package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/trigger"
)

const recordTimeout = 5 * time.Second

// Recorder writes every trigger commit to the audit log. Write failures are
// logged and never reach the trigger.
type Recorder struct {
	commits CommitStore
	logger  zerolog.Logger
}

// NewRecorder constructs a Recorder backed by the given store.
func NewRecorder(commits CommitStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		commits: commits,
		logger:  logger.With().Str("component", "commit_recorder").Logger(),
	}
}

// Evaluated is a no-op; only commits are persisted.
func (r *Recorder) Evaluated(context.Context, trigger.Pair, decimal.Decimal, trigger.Decision) {}

// TickFailed is a no-op; failures are reported through logs and alerts.
func (r *Recorder) TickFailed(context.Context, trigger.Pair, error) {}

// Committed persists the commit.
func (r *Recorder) Committed(ctx context.Context, c trigger.Commit) {
	rec := CommitRecord{
		ID:           c.ID,
		Pair:         c.Pair.String(),
		Rate:         c.Rate,
		PreviousRate: c.Previous,
		Reason:       string(c.Reason),
		CommittedAt:  c.At,
	}
	if c.ChangeDefined && c.Reason != trigger.ReasonInitial {
		change := c.ChangePct
		rec.ChangePct = &change
	}

	// the commit already landed on chain, record it even if the tick is cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.commits.InsertCommit(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("commit_id", c.ID.String()).Msg("Failed to record commit")
		return
	}
	r.logger.Debug().Str("commit_id", c.ID.String()).Msg("Commit recorded")
}

var _ trigger.Observer = (*Recorder)(nil)
