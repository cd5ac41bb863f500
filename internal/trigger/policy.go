package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/config"
)

var hundred = decimal.NewFromInt(100)

// Pair identifies the tracked rate.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) String() string {
	return strings.ToUpper(p.Base) + "/" + strings.ToUpper(p.Quote)
}

// Policy decides when a fetched rate must be pushed to the oracle.
// PollInterval should not exceed UpdateInterval; that is left to the caller.
type Policy struct {
	// UpdateThreshold is the minimum absolute change, in percent of the last
	// committed rate, that forces a commit.
	UpdateThreshold decimal.Decimal
	// PollInterval is how often the feed is sampled.
	PollInterval time.Duration
	// UpdateInterval is the maximum age of a committed rate.
	UpdateInterval time.Duration
	// TickTimeout bounds a single tick; zero means no deadline.
	TickTimeout time.Duration
	// StartDelay holds back the first scheduled tick after the initial commit.
	StartDelay time.Duration
}

// Validate rejects non-positive policy values.
func (p Policy) Validate() error {
	if p.UpdateThreshold.Sign() <= 0 {
		return &config.ConfigError{Field: "trigger.update_threshold", Err: fmt.Errorf("%w: must be positive", config.ErrInvalid)}
	}
	if p.PollInterval <= 0 {
		return &config.ConfigError{Field: "trigger.poll_interval", Err: fmt.Errorf("%w: must be positive", config.ErrInvalid)}
	}
	if p.UpdateInterval <= 0 {
		return &config.ConfigError{Field: "trigger.update_interval", Err: fmt.Errorf("%w: must be positive", config.ErrInvalid)}
	}
	if p.TickTimeout < 0 {
		return &config.ConfigError{Field: "trigger.tick_timeout", Err: fmt.Errorf("%w: cannot be negative", config.ErrInvalid)}
	}
	if p.StartDelay < 0 {
		return &config.ConfigError{Field: "trigger.start_delay", Err: fmt.Errorf("%w: cannot be negative", config.ErrInvalid)}
	}
	return nil
}

// Reason explains why a commit happened.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonInitial   Reason = "initial"
	ReasonInterval  Reason = "interval"
	ReasonThreshold Reason = "threshold"
	// ReasonZeroBaseline: the last committed rate was zero, so any non-zero
	// rate counts as crossing the threshold.
	ReasonZeroBaseline Reason = "zero_baseline"
)

// State is what the trigger last committed.
type State struct {
	LastCommittedRate decimal.Decimal
	LastCommitTime    time.Time
}

// Decision is the outcome of evaluating one fetched rate.
type Decision struct {
	Reason    Reason
	ChangePct decimal.Decimal
	// ChangeDefined is false when the baseline is zero.
	ChangeDefined bool
}

// Commit reports whether the decision requires pushing the rate.
func (d Decision) Commit() bool {
	return d.Reason != ReasonNone
}

// PercentChange returns |current-previous| / previous * 100. The second
// result is false when previous is zero and the change is undefined.
func PercentChange(previous, current decimal.Decimal) (decimal.Decimal, bool) {
	if previous.IsZero() {
		return decimal.Zero, false
	}
	return current.Sub(previous).Mul(hundred).Div(previous).Abs(), true
}

// Decide applies the staleness rule, then the threshold rule.
func Decide(p Policy, s State, rate decimal.Decimal, now time.Time) Decision {
	change, defined := PercentChange(s.LastCommittedRate, rate)
	d := Decision{ChangePct: change, ChangeDefined: defined}

	switch {
	case now.Sub(s.LastCommitTime) >= p.UpdateInterval:
		d.Reason = ReasonInterval
	case !defined:
		if !rate.IsZero() {
			d.Reason = ReasonZeroBaseline
		}
	case change.GreaterThanOrEqual(p.UpdateThreshold):
		d.Reason = ReasonThreshold
	}
	return d
}
