package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/rostersync/internal/app"
	"github.com/zjrosen/rostersync/internal/presentation"
	"github.com/zjrosen/rostersync/internal/report"
)

var (
	listUntagged bool
	resetConfirm bool
)

var membersListCmd = &cobra.Command{
	Use:   "members:list",
	Short: "List tracked members",
	Long: `List tracked members sorted by display name, 25 per page.

Use --untagged to list only members whose display name lacks the community tag.

Examples:
  rostersync members:list
  rostersync members:list --untagged
  rostersync members:list --json | jq '.pages[0].members'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App, f *presentation.Formatter) error {
			if listUntagged {
				return f.FormatUntagged(presentation.FromUntagged(a.Roster.CommunityTag(), a.Roster.Untagged()))
			}
			return f.FormatListing(presentation.FromPages(a.Roster.Pages(report.PageSize)))
		})
	},
}

var membersAddCmd = &cobra.Command{
	Use:   "members:add <username> <owner_ref>",
	Short: "Track a directory username",
	Long: `Resolve a username against the directory and add it to the registry.

The owner reference is the 17-20 digit chat account that owns the member.

Examples:
  rostersync members:add builder_one 123456789012345678`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, f *presentation.Formatter) error {
			m, err := a.Roster.Add(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return f.FormatMember(presentation.FromMember(m))
		})
	},
}

var membersDeleteCmd = &cobra.Command{
	Use:   "members:delete <username>",
	Short: "Stop tracking a username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App, _ *presentation.Formatter) error {
			if err := a.Roster.Delete(ctx, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return err
		})
	},
}

var errResetNotConfirmed = errors.New("refusing to remove every member without --yes")

var membersResetCmd = &cobra.Command{
	Use:   "members:reset",
	Short: "Remove every tracked member",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !resetConfirm {
			return errResetNotConfirmed
		}
		return withApp(cmd, func(ctx context.Context, a *app.App, _ *presentation.Formatter) error {
			n := a.Roster.Reset(ctx)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %d members\n", n)
			return err
		})
	},
}

func init() {
	membersListCmd.Flags().BoolVar(&listUntagged, "untagged", false, "only members missing the community tag")
	membersResetCmd.Flags().BoolVar(&resetConfirm, "yes", false, "confirm removing every member")

	rootCmd.AddCommand(membersListCmd, membersAddCmd, membersDeleteCmd, membersResetCmd)
}
