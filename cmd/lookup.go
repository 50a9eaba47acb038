package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zjrosen/rostersync/internal/app"
	"github.com/zjrosen/rostersync/internal/presentation"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <username>",
	Short: "Show a directory profile without tracking it",
	Long: `Look up any username in the directory and print its profile: display name,
avatar, presence and social counts. The registry is not touched.

Examples:
  rostersync lookup builder_one
  rostersync lookup builder_one --json | jq .status`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, f *presentation.Formatter) error {
			p, err := a.Roster.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			return f.FormatProfile(presentation.FromProfile(p))
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass now",
	Long: `Refresh every tracked member's display name from the directory and print
what changed. Batches and pacing follow the reconcile section of the config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, f *presentation.Formatter) error {
			rep, err := a.Engine.Run(ctx)
			if fmtErr := f.FormatReconcile(presentation.FromReport(rep)); fmtErr != nil {
				return fmtErr
			}
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(lookupCmd, reconcileCmd)
}
