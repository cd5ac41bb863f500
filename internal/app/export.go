package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"rate-oracle-updater/internal/storage"
)

// Export renders the commit history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	from, to, err := exportWindow(opts, a.Config.Trigger.UpdateInterval, time.Now())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	commits, err := store.ListCommitsBetween(ctx, a.pair().String(), from, to)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no commits found for export window")
		return nil
	}

	downsampled := downsampleCommits(commits, opts.MaxPoints)
	a.Logger.Info().Int("total", len(commits)).Int("exported", len(downsampled)).Msg("exporting commits")

	if opts.CSVPath != "" {
		if err := writeCommitsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeCommitsPNG(opts.PNGPath, a.pair().String(), downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow defaults to the span in which the staleness rule alone would
// produce maxPoints commits.
func exportWindow(opts ExportOptions, updateInterval time.Duration, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	span := time.Duration(opts.MaxPoints) * updateInterval
	if span <= 0 {
		span = 7 * 24 * time.Hour
	}
	from := to.Add(-span)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleCommits(commits []storage.CommitRecord, max int) []storage.CommitRecord {
	if max <= 0 || len(commits) <= max {
		return commits
	}
	if max == 1 {
		return commits[len(commits)-1:]
	}

	result := make([]storage.CommitRecord, 0, max)
	step := float64(len(commits)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(commits) {
			idx = len(commits) - 1
		}
		result = append(result, commits[idx])
	}
	return result
}

func writeCommitsCSV(path string, commits []storage.CommitRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"committed_at", "pair", "rate", "previous_rate", "change_pct", "reason", "id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, c := range commits {
		change := ""
		if c.ChangePct != nil {
			change = c.ChangePct.String()
		}
		record := []string{
			c.CommittedAt.UTC().Format(time.RFC3339Nano),
			c.Pair,
			c.Rate.String(),
			c.PreviousRate.String(),
			change,
			c.Reason,
			c.ID.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeCommitsPNG(path, pair string, commits []storage.CommitRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(commits))
	rates := make([]float64, len(commits))
	changes := make([]float64, len(commits))

	for i, c := range commits {
		x[i] = c.CommittedAt
		rates[i] = c.Rate.InexactFloat64()
		if c.ChangePct != nil {
			changes[i] = c.ChangePct.InexactFloat64()
		}
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  pair + " oracle commits",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (" + pair + ")",
			ValueFormatter: rateFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: rateFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Committed rate",
				XValues: x,
				YValues: rates,
			},
			chart.TimeSeries{
				Name:    "Change %",
				XValues: x,
				YValues: changes,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
