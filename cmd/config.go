package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/rostersync/internal/config"
	"github.com/zjrosen/rostersync/internal/registry"
)

var configShowCmd = &cobra.Command{
	Use:   "config:show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, ROSTERSYNC_*
environment variables and flags have been merged.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings := viper.AllSettings()
		if jsonFlag {
			return formatter(cmd.OutOrStdout()).JSON(settings)
		}
		out, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "config:path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), configPath())
		return err
	},
}

var configAdminAddCmd = &cobra.Command{
	Use:   "config:admin-add <owner_ref>",
	Short: "Grant admin access to a chat account",
	Long: `Append an account to admin_ids in the config file. A running "serve"
picks the change up without a restart.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := addAdminID(cfg.AdminIDs, args[0])
		if err != nil {
			return err
		}
		if err := config.SaveAdminIDs(configPath(), ids); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Admins: %s\n", strings.Join(ids, ", "))
		return err
	},
}

var configAdminRemoveCmd = &cobra.Command{
	Use:   "config:admin-remove <owner_ref>",
	Short: "Revoke admin access from a chat account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, ok := removeAdminID(cfg.AdminIDs, args[0])
		if !ok {
			return fmt.Errorf("%s is not an admin", args[0])
		}
		if err := config.SaveAdminIDs(configPath(), ids); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Admins: %s\n", strings.Join(ids, ", "))
		return err
	},
}

var configTagCmd = &cobra.Command{
	Use:   "config:tag <tag>",
	Short: "Set the community tag untagged reports look for",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag := strings.TrimSpace(args[0])
		if tag == "" {
			return fmt.Errorf("tag must not be empty")
		}
		if err := config.SaveCommunityTag(configPath(), tag); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Community tag: %s\n", tag)
		return err
	},
}

// addAdminID returns ids with id appended. Duplicates and malformed IDs
// are rejected.
func addAdminID(ids []string, id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if !registry.ValidOwnerRef(id) {
		return nil, fmt.Errorf("admin id %q must be 17-20 digits", id)
	}
	if slices.Contains(ids, id) {
		return nil, fmt.Errorf("%s is already an admin", id)
	}
	return append(slices.Clone(ids), id), nil
}

func removeAdminID(ids []string, id string) ([]string, bool) {
	id = strings.TrimSpace(id)
	i := slices.Index(ids, id)
	if i < 0 {
		return ids, false
	}
	return slices.Delete(slices.Clone(ids), i, i+1), true
}

func init() {
	rootCmd.AddCommand(configShowCmd, configPathCmd, configAdminAddCmd, configAdminRemoveCmd, configTagCmd)
}
