package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/rostersync/internal/app"
	"github.com/zjrosen/rostersync/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled reconciliation and the admin API",
	Long: `Run until interrupted: reconcile on the configured interval, report untagged
members before each pass, serve the admin HTTP API and reload admin_ids and
community_tag when the config file changes.

Examples:
  rostersync serve
  rostersync serve --addr 127.0.0.1:9000
  rostersync serve --addr ""   # scheduler only`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := app.Options{}
		if p := viper.ConfigFileUsed(); p != "" {
			opts.ConfigPath = p
		}
		a, err := app.New(cfg, opts)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(cmd.Context()) }()

		log.Info(log.CatConfig, "serving", "data_file", cfg.DataFile, "addr", cfg.API.Addr, "interval", cfg.Reconcile.Interval)
		return a.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "admin API listen address (overrides api.addr)")
	_ = viper.BindPFlag("api.addr", serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
