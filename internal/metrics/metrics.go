package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/trigger"
)

const namespace = "rate_oracle"

// TriggerMetrics holds the collectors fed by a rate update trigger.
type TriggerMetrics struct {
	TicksTotal         *prometheus.CounterVec
	CommitsTotal       *prometheus.CounterVec
	TickErrorsTotal    *prometheus.CounterVec
	FetchedRate        *prometheus.GaugeVec
	CommittedRate      *prometheus.GaugeVec
	LastCommitUnixTime *prometheus.GaugeVec
	ChangePct          *prometheus.HistogramVec
}

// New registers the trigger collectors on reg.
func New(reg prometheus.Registerer) *TriggerMetrics {
	factory := promauto.With(reg)
	return &TriggerMetrics{
		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Evaluated ticks by outcome (commit or skip)",
			},
			[]string{"pair", "outcome"},
		),
		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commits_total",
				Help:      "Rates accepted by the oracle by reason",
			},
			[]string{"pair", "reason"},
		),
		TickErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tick_errors_total",
				Help:      "Failed ticks by stage (feed, sink, other)",
			},
			[]string{"pair", "stage"},
		),
		FetchedRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetched_rate",
				Help:      "Last rate fetched from the feed",
			},
			[]string{"pair"},
		),
		CommittedRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "committed_rate",
				Help:      "Last rate accepted by the oracle",
			},
			[]string{"pair"},
		),
		LastCommitUnixTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_commit_timestamp_seconds",
				Help:      "Unix time of the last accepted commit",
			},
			[]string{"pair"},
		),
		ChangePct: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "change_pct",
				Help:      "Percent change of fetched rates against the last committed rate",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01%, 0.02%, 0.04%...
			},
			[]string{"pair"},
		),
	}
}

func (m *TriggerMetrics) Evaluated(_ context.Context, pair trigger.Pair, rate decimal.Decimal, d trigger.Decision) {
	label := pair.String()
	outcome := "skip"
	if d.Commit() {
		outcome = "commit"
	}
	m.TicksTotal.WithLabelValues(label, outcome).Inc()
	m.FetchedRate.WithLabelValues(label).Set(rate.InexactFloat64())
	if d.ChangeDefined {
		m.ChangePct.WithLabelValues(label).Observe(d.ChangePct.InexactFloat64())
	}
}

func (m *TriggerMetrics) Committed(_ context.Context, c trigger.Commit) {
	label := c.Pair.String()
	m.CommitsTotal.WithLabelValues(label, string(c.Reason)).Inc()
	m.CommittedRate.WithLabelValues(label).Set(c.Rate.InexactFloat64())
	m.LastCommitUnixTime.WithLabelValues(label).Set(float64(c.At.UnixNano()) / float64(time.Second))
}

func (m *TriggerMetrics) TickFailed(_ context.Context, pair trigger.Pair, err error) {
	m.TickErrorsTotal.WithLabelValues(pair.String(), stage(err)).Inc()
}

func stage(err error) string {
	var fe *trigger.FeedError
	var se *trigger.SinkError
	switch {
	case errors.As(err, &fe):
		return "feed"
	case errors.As(err, &se):
		return "sink"
	default:
		return "other"
	}
}

var _ trigger.Observer = (*TriggerMetrics)(nil)
