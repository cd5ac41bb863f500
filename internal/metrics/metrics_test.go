package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/trigger"
)

var pair = trigger.Pair{Base: "BTC", Quote: "USD"}

func TestEvaluatedCountsOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.Evaluated(ctx, pair, decimal.NewFromInt(10), trigger.Decision{ChangeDefined: true, ChangePct: decimal.NewFromFloat(0.5)})
	m.Evaluated(ctx, pair, decimal.NewFromInt(12), trigger.Decision{Reason: trigger.ReasonThreshold, ChangeDefined: true, ChangePct: decimal.NewFromInt(20)})

	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("BTC/USD", "skip")); got != 1 {
		t.Fatalf("expected 1 skipped tick, got %v", got)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues("BTC/USD", "commit")); got != 1 {
		t.Fatalf("expected 1 committing tick, got %v", got)
	}
	if got := testutil.ToFloat64(m.FetchedRate.WithLabelValues("BTC/USD")); got != 12 {
		t.Fatalf("expected fetched rate 12, got %v", got)
	}
}

func TestCommittedSetsGauges(t *testing.T) {
	m := New(prometheus.NewRegistry())
	at := time.Unix(1700000000, 0)

	m.Committed(context.Background(), trigger.Commit{Pair: pair, Rate: decimal.RequireFromString("42.5"), Reason: trigger.ReasonInterval, At: at})

	if got := testutil.ToFloat64(m.CommitsTotal.WithLabelValues("BTC/USD", "interval")); got != 1 {
		t.Fatalf("expected 1 interval commit, got %v", got)
	}
	if got := testutil.ToFloat64(m.CommittedRate.WithLabelValues("BTC/USD")); got != 42.5 {
		t.Fatalf("expected committed rate 42.5, got %v", got)
	}
	if got := testutil.ToFloat64(m.LastCommitUnixTime.WithLabelValues("BTC/USD")); got != 1700000000 {
		t.Fatalf("unexpected last commit time %v", got)
	}
}

func TestTickFailedStages(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.TickFailed(ctx, pair, &trigger.FeedError{Pair: pair, Err: errors.New("timeout")})
	m.TickFailed(ctx, pair, &trigger.SinkError{Rate: decimal.NewFromInt(1), Err: errors.New("reverted")})
	m.TickFailed(ctx, pair, errors.New("boom"))

	for _, stage := range []string{"feed", "sink", "other"} {
		if got := testutil.ToFloat64(m.TickErrorsTotal.WithLabelValues("BTC/USD", stage)); got != 1 {
			t.Fatalf("expected 1 %s error, got %v", stage, got)
		}
	}
}

func TestNewRegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Committed(context.Background(), trigger.Commit{Pair: pair, Reason: trigger.ReasonInitial})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "rate_oracle_commits_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("commits counter not registered")
	}
}
