// Package app assembles rostersync's components from configuration and runs
// the long-lived service: scheduled reconciliation, the admin API and config
// hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/rostersync/internal/api"
	"github.com/zjrosen/rostersync/internal/clock"
	"github.com/zjrosen/rostersync/internal/config"
	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/metrics"
	"github.com/zjrosen/rostersync/internal/poll"
	"github.com/zjrosen/rostersync/internal/pubsub"
	"github.com/zjrosen/rostersync/internal/reconcile"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/report"
	"github.com/zjrosen/rostersync/internal/roster"
	"github.com/zjrosen/rostersync/internal/scheduler"
	"github.com/zjrosen/rostersync/internal/tracing"
	"github.com/zjrosen/rostersync/internal/watcher"
)

// Options carries process-level dependencies that tests replace.
type Options struct {
	// ConfigPath is watched for admin_ids and community_tag edits.
	// Empty disables hot reload.
	ConfigPath string
	// Registerer and Gatherer back the metrics. Nil uses the defaults.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Clock      clock.Clock
	HTTPClient *http.Client
}

// App holds the wired components.
type App struct {
	cfg  config.Config
	opts Options

	Store     *registry.Store
	Directory *directory.Client
	Roster    *roster.Service
	Engine    *reconcile.Engine
	Polls     *poll.Manager
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics

	tracing  *tracing.Provider
	reports  *pubsub.Broker[reconcile.Report]
	untagged *pubsub.Broker[[]registry.Member]
	closed   *pubsub.Broker[poll.Closed]
	server   atomic.Pointer[api.Server]
}

const shutdownTimeout = 10 * time.Second

// New wires every component from cfg. Nothing runs until Serve.
func New(cfg config.Config, opts Options) (*App, error) {
	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}
	tracer := tp.Tracer()
	m := metrics.New(opts.Registerer)
	clk := clock.OrReal(opts.Clock)

	store, err := registry.Open(registry.Config{
		Path:        cfg.DataFile,
		Clock:       clk,
		SettleDelay: cfg.Persist.SettleDelay,
		Metrics:     m,
	})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	dcfg := cfg.Directory.DirectoryClientConfig()
	dcfg.HTTPClient = opts.HTTPClient
	dcfg.Clock = clk
	dcfg.Tracer = tracer
	dcfg.Metrics = m
	dir := directory.NewClient(dcfg)

	a := &App{
		cfg:       cfg,
		opts:      opts,
		Store:     store,
		Directory: dir,
		Metrics:   m,
		tracing:   tp,
		reports:   pubsub.NewBroker[reconcile.Report](),
		untagged:  pubsub.NewBroker[[]registry.Member](),
		closed:    pubsub.NewBroker[poll.Closed](),
	}

	a.Roster = roster.New(roster.Config{
		Registry:     store,
		Resolver:     dir,
		Profiles:     directory.NewCachedProfiles(dir, cfg.Directory.LookupCacheTTL),
		AdminIDs:     cfg.AdminIDs,
		CommunityTag: cfg.CommunityTag,
		Publisher:    a.untagged,
	})
	a.Engine = reconcile.NewEngine(reconcile.Config{
		Registry:  store,
		Resolver:  dir,
		BatchSize: cfg.Reconcile.BatchSize,
		Pacing:    pacing(cfg.Reconcile.Pacing),
		Clock:     clk,
		Tracer:    tracer,
		Metrics:   m,
		Publisher: a.reports,
	})
	a.Polls = poll.NewManager(poll.ManagerConfig{
		Clock:           clk,
		DefaultDuration: cfg.Poll.DefaultDuration,
		MaxDuration:     cfg.Poll.MaxDuration,
		ResultTTL:       cfg.Poll.ResultTTL,
		Metrics:         m,
		Publisher:       a.closed,
	})
	a.Scheduler = scheduler.New(scheduler.Config{
		Name:       "reconcile",
		Job:        a.ScheduledPass,
		Interval:   cfg.Reconcile.Interval,
		Clock:      clk,
		Metrics:    m,
		SkipErr:    reconcile.ErrPassInProgress,
		DelayFirst: !cfg.Reconcile.RunOnStart,
	})
	return a, nil
}

// pacing maps a configured zero to "no pause"; the engine treats zero as
// its default.
func pacing(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// ScheduledPass reports untagged members, then reconciles the registry.
func (a *App) ScheduledPass(ctx context.Context) error {
	a.Roster.ReportUntagged()
	_, err := a.Engine.Run(ctx)
	return err
}

// Serve runs the scheduler, the admin API, the change-report logger and the
// config watcher until ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	var srv *api.Server
	if a.cfg.API.Addr != "" {
		var err error
		srv, err = api.NewServer(api.ServerConfig{
			Addr: a.cfg.API.Addr,
			Handler: api.HandlerConfig{
				Roster:     a.Roster,
				Reconciler: a.Engine,
				Polls:      a.Polls,
				Gatherer:   a.opts.Gatherer,
				Tracer:     a.tracing.Tracer(),
			},
		})
		if err != nil {
			return fmt.Errorf("starting api: %w", err)
		}
		a.server.Store(srv)
	}

	var w *watcher.Watcher
	if a.opts.ConfigPath != "" {
		var err error
		w, err = watcher.New(watcher.DefaultConfig(a.opts.ConfigPath))
		if err != nil {
			if srv != nil {
				_ = srv.Stop(context.Background())
			}
			return fmt.Errorf("watching config: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Scheduler.Start(ctx)
		return nil
	})
	g.Go(func() error {
		a.logReports(ctx)
		return nil
	})
	if srv != nil {
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Stop(stopCtx)
		})
	}
	if w != nil {
		g.Go(func() error {
			return w.Watch(ctx, func() { a.ReloadConfig(a.opts.ConfigPath) })
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// APIPort reports the port the admin API is bound to, or 0 before Serve
// has started it.
func (a *App) APIPort() int {
	if srv := a.server.Load(); srv != nil {
		return srv.Port()
	}
	return 0
}

// ReloadConfig re-reads path and applies the settings that can change while
// running. An invalid file is logged and ignored.
func (a *App) ReloadConfig(path string) {
	next, err := config.LoadFile(path)
	if err != nil {
		log.ErrorErr(log.CatConfig, "config reload failed, keeping current settings", err, "path", path)
		return
	}
	a.Roster.SetAdmins(next.AdminIDs)
	a.Roster.SetCommunityTag(next.CommunityTag)
	log.Info(log.CatConfig, "config reloaded", "path", path, "admins", len(next.AdminIDs), "tag", a.Roster.CommunityTag())
}

// logReports writes every change report, untagged report and poll result
// to the log, split into message-sized chunks, until ctx is done.
func (a *App) logReports(ctx context.Context) {
	reports := a.reports.Subscribe(ctx)
	closed := a.closed.Subscribe(ctx)
	untagged := a.untagged.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-reports:
			if !ok {
				return
			}
			if len(ev.Payload.Changes) == 0 {
				continue
			}
			for i, chunk := range report.Chunk(report.FormatChanges(ev.Payload.Changes), report.MaxChunkChars) {
				log.Info(log.CatReconcile, "display names changed", "part", i+1, "text", chunk)
			}
		case ev, ok := <-untagged:
			if !ok {
				return
			}
			for i, chunk := range report.Chunk(report.FormatUntagged(ev.Payload), report.MaxChunkChars) {
				log.Info(log.CatReconcile, "members missing the community tag", "part", i+1, "text", chunk)
			}
		case ev, ok := <-closed:
			if !ok {
				return
			}
			log.Info(log.CatPoll, "poll result", "id", ev.Payload.ID, "title", ev.Payload.Title, "voters", ev.Payload.Result.Voters)
		}
	}
}

// Close flushes traces and releases brokers.
func (a *App) Close(ctx context.Context) error {
	a.reports.Close()
	a.untagged.Close()
	a.closed.Close()
	return a.tracing.Shutdown(ctx)
}
