package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"rate-oracle-updater/internal/storage"
)

// Show prints recent commits, or recent alerts with opts.Alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions, w io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show commits")
	}
	if closeStore != nil {
		defer closeStore()
	}

	pair := a.pair().String()
	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, pair, opts.Limit)
		if err != nil {
			return err
		}
		return renderAlerts(w, alerts)
	}

	commits, err := store.ListRecentCommits(ctx, pair, opts.Limit)
	if err != nil {
		return err
	}
	return renderCommits(w, commits)
}

func renderCommits(w io.Writer, commits []storage.CommitRecord) error {
	if len(commits) == 0 {
		_, err := fmt.Fprintln(w, "no commits found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRate\tPrevious\tChange%\tReason\tID")
	for _, c := range commits {
		change := "-"
		if c.ChangePct != nil {
			change = formatDecimal(*c.ChangePct, 3)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			c.CommittedAt.UTC().Format(time.RFC3339),
			c.Rate.String(),
			c.PreviousRate.String(),
			change,
			c.Reason,
			c.ID.String(),
		)
	}
	return writer.Flush()
}

func renderAlerts(w io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "no alerts found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tChannels\tMessage")
	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Kind,
			strings.Join(rec.Channels, ","),
			sanitizeInline(rec.Message),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return strings.TrimSpace(cleaned)
}
