package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/rostersync/internal/config"
	"github.com/zjrosen/rostersync/internal/log"
)

const localConfigPath = ".rostersync/config.yaml"

var (
	version  = "dev"
	cfgFile  string
	jsonFlag bool
	cfg      config.Config
	cfgErr   error
)

var rootCmd = &cobra.Command{
	Use:   "rostersync",
	Short: "Keep a community member roster in sync with a player directory",
	Long: `rostersync tracks community members by directory username, refreshes their
display names on a schedule, reports members missing the community tag and
runs timed polls. "serve" runs the scheduler and the admin HTTP API; the
other commands operate on the registry file directly.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cfgErr != nil {
			return cfgErr
		}
		cleanup, err := log.Init(cfg.Log.Path)
		if err != nil {
			return err
		}
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
		cobra.OnFinalize(cleanup)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./"+localConfigPath+" or ~/.config/rostersync/config.yaml)")
	rootCmd.PersistentFlags().String("data", "", "registry snapshot file (overrides data_file)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print JSON instead of styled text")

	_ = viper.BindPFlag("data_file", rootCmd.PersistentFlags().Lookup("data"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .rostersync/config.yaml (current directory)
		// 2. ~/.config/rostersync/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "rostersync"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			// No config file found anywhere - create default at .rostersync/config.yaml
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				viper.SetConfigFile(localConfigPath)
				_ = viper.ReadInConfig()
			}
		default:
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
	}

	cfg, cfgErr = config.Unmarshal(viper.GetViper())
}

// configPath returns the config file in use, falling back to the local
// default location.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return localConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
