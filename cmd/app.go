package cmd

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zjrosen/rostersync/internal/app"
	"github.com/zjrosen/rostersync/internal/presentation"
)

// withApp wires an App for a one-shot command and closes it afterwards.
// One-shot commands get a private metrics registry.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, f *presentation.Formatter) error) error {
	reg := prometheus.NewRegistry()
	a, err := app.New(cfg, app.Options{Registerer: reg, Gatherer: reg})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

	return fn(cmd.Context(), a, formatter(cmd.OutOrStdout()))
}

func formatter(w io.Writer) *presentation.Formatter {
	return presentation.NewFormatter(w, jsonFlag)
}
