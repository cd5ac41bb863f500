package cli

import (
	"github.com/spf13/cobra"

	"rate-oracle-updater/internal/app"
)

var (
	stateDryRun bool
	stateRate   string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the on-chain rate, the feed rate and the next tick's decision",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.StateOptions{
			DryRun: stateDryRun,
			Rate:   stateRate,
		}
		return getApp().State(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	stateCmd.Flags().BoolVar(&stateDryRun, "dry-run", false, "Do not query the rate feed")
	stateCmd.Flags().StringVar(&stateRate, "rate", "", "Rate to evaluate with --dry-run (defaults to the on-chain rate)")
}
