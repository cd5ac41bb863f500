package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"rate-oracle-updater/internal/oracle"
	"rate-oracle-updater/internal/provider"
	"rate-oracle-updater/internal/service"
	"rate-oracle-updater/internal/trigger"
)

// State prints the on-chain rate, the current feed rate and what the next
// tick would do with them.
func (a *App) State(ctx context.Context, opts StateOptions, w io.Writer) error {
	contract, err := a.newContract()
	if err != nil {
		return err
	}
	defer contract.Close()

	current, err := contract.CurrentState(ctx)
	if err != nil {
		return fmt.Errorf("read oracle state: %w", err)
	}

	var rates trigger.RateFetcher
	if opts.DryRun {
		rate := current.Rate
		if opts.Rate != "" {
			if rate, err = decimal.NewFromString(opts.Rate); err != nil {
				return fmt.Errorf("parse --rate: %w", err)
			}
		}
		rates = provider.NewStatic(rate)
	} else {
		if rates, err = a.newRateManager(); err != nil {
			return err
		}
	}

	pair := a.pair()
	feedRate, err := rates.FetchRate(ctx, pair.Base, pair.Quote)
	if err != nil {
		return &trigger.FeedError{Pair: pair, Err: err}
	}

	policy := service.PolicyFromConfig(a.Config.Trigger)
	decision := trigger.Decide(policy, trigger.State{LastCommittedRate: current.Rate, LastCommitTime: current.UpdatedAt}, feedRate, time.Now())

	return renderState(w, pair, current, feedRate, policy, decision)
}

func renderState(w io.Writer, pair trigger.Pair, current oracle.State, feedRate decimal.Decimal, policy trigger.Policy, d trigger.Decision) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	change := "n/a"
	if d.ChangeDefined {
		change = formatDecimal(d.ChangePct, 4) + "%"
	}
	next := "skip"
	if d.Commit() {
		next = "commit (" + string(d.Reason) + ")"
	}

	fmt.Fprintf(writer, "Pair\t%s\n", pair)
	fmt.Fprintf(writer, "Oracle rate\t%s\n", current.Rate.String())
	fmt.Fprintf(writer, "Oracle updated (UTC)\t%s\n", current.UpdatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(writer, "Feed rate\t%s\n", feedRate.String())
	fmt.Fprintf(writer, "Change\t%s (threshold %s%%)\n", change, policy.UpdateThreshold.String())
	fmt.Fprintf(writer, "Update interval\t%s\n", policy.UpdateInterval)
	fmt.Fprintf(writer, "Next tick\t%s\n", next)

	return writer.Flush()
}
