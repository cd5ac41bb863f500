package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/config"
)

func TestPercentChange(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		current  string
		want     string
		defined  bool
	}{
		{name: "increase", previous: "2", current: "3", want: "50", defined: true},
		{name: "decrease", previous: "4", current: "3", want: "25", defined: true},
		{name: "unchanged", previous: "10", current: "10", want: "0", defined: true},
		{name: "zero baseline", previous: "0", current: "5", want: "0", defined: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, defined := PercentChange(decimal.RequireFromString(tt.previous), decimal.RequireFromString(tt.current))
			if defined != tt.defined {
				t.Fatalf("expected defined=%v, got %v", tt.defined, defined)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDecide(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := Policy{
		UpdateThreshold: decimal.NewFromInt(50),
		PollInterval:    time.Second,
		UpdateInterval:  time.Minute,
	}

	tests := []struct {
		name    string
		last    string
		rate    string
		elapsed time.Duration
		want    Reason
	}{
		{name: "below threshold", last: "10", rate: "11", elapsed: time.Second, want: ReasonNone},
		{name: "exactly threshold", last: "2", rate: "3", elapsed: time.Second, want: ReasonThreshold},
		{name: "downward move", last: "2", rate: "1", elapsed: time.Second, want: ReasonThreshold},
		{name: "stale with no change", last: "10", rate: "10", elapsed: time.Minute, want: ReasonInterval},
		{name: "staleness wins over threshold", last: "2", rate: "3", elapsed: 2 * time.Minute, want: ReasonInterval},
		{name: "zero baseline non-zero rate", last: "0", rate: "5", elapsed: time.Second, want: ReasonZeroBaseline},
		{name: "zero baseline zero rate", last: "0", rate: "0", elapsed: time.Second, want: ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := State{LastCommittedRate: decimal.RequireFromString(tt.last), LastCommitTime: start}
			got := Decide(policy, state, decimal.RequireFromString(tt.rate), start.Add(tt.elapsed))
			if got.Reason != tt.want {
				t.Fatalf("expected reason %q, got %q", tt.want, got.Reason)
			}
			if got.Commit() != (tt.want != ReasonNone) {
				t.Fatalf("commit flag mismatch for reason %q", got.Reason)
			}
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	valid := Policy{
		UpdateThreshold: decimal.NewFromInt(1),
		PollInterval:    time.Second,
		UpdateInterval:  time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Policy)
		field  string
	}{
		{name: "zero threshold", mutate: func(p *Policy) { p.UpdateThreshold = decimal.Zero }, field: "trigger.update_threshold"},
		{name: "negative threshold", mutate: func(p *Policy) { p.UpdateThreshold = decimal.NewFromInt(-1) }, field: "trigger.update_threshold"},
		{name: "zero poll", mutate: func(p *Policy) { p.PollInterval = 0 }, field: "trigger.poll_interval"},
		{name: "zero update", mutate: func(p *Policy) { p.UpdateInterval = 0 }, field: "trigger.update_interval"},
		{name: "negative timeout", mutate: func(p *Policy) { p.TickTimeout = -time.Second }, field: "trigger.tick_timeout"},
		{name: "negative start delay", mutate: func(p *Policy) { p.StartDelay = -time.Second }, field: "trigger.start_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			var cfgErr *config.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Fatalf("expected field %s, got %s", tt.field, cfgErr.Field)
			}
			if !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestPairString(t *testing.T) {
	if got := (Pair{Base: "btc", Quote: "usd"}).String(); got != "BTC/USD" {
		t.Fatalf("unexpected pair string %s", got)
	}
}
