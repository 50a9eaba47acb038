// Package metrics exposes Prometheus instrumentation for rostersync.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Members             prometheus.Gauge
	PersistTotal        *prometheus.CounterVec
	ReconcilePasses     *prometheus.CounterVec
	ReconcileChanges    prometheus.Counter
	ReconcileDuration   prometheus.Histogram
	DirectoryRequests   *prometheus.CounterVec
	DirectoryRetries    prometheus.Counter
	PollsOpened         prometheus.Counter
	PollsClosed         prometheus.Counter
	PollVotes           prometheus.Counter
	SchedulerSkippedRun prometheus.Counter
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Members: f.NewGauge(prometheus.GaugeOpts{
			Name: "rostersync_registry_members",
			Help: "Current number of tracked members",
		}),
		PersistTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_registry_persist_total",
			Help: "Physical registry writes by outcome (rename, remove_rename, copy, degraded, error)",
		}, []string{"outcome"}),
		ReconcilePasses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_reconcile_passes_total",
			Help: "Reconciliation passes by result",
		}, []string{"result"}),
		ReconcileChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_reconcile_changes_total",
			Help: "Display names rewritten by reconciliation",
		}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rostersync_reconcile_duration_seconds",
			Help:    "Wall time of reconciliation passes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		DirectoryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_directory_requests_total",
			Help: "Directory service requests by endpoint and result",
		}, []string{"endpoint", "result"}),
		DirectoryRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_directory_rate_limit_retries_total",
			Help: "Retries issued after a rate-limit response",
		}),
		PollsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_polls_opened_total",
			Help: "Polls opened",
		}),
		PollsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_polls_closed_total",
			Help: "Polls closed at their deadline",
		}),
		PollVotes: f.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_poll_votes_total",
			Help: "Accepted poll votes",
		}),
		SchedulerSkippedRun: f.NewCounter(prometheus.CounterOpts{
			Name: "rostersync_scheduler_skipped_runs_total",
			Help: "Scheduled runs skipped because a pass was already in progress",
		}),
	}
}

func (m *Metrics) SetMembers(n int) {
	if m == nil {
		return
	}
	m.Members.Set(float64(n))
}

func (m *Metrics) ObservePersist(outcome string) {
	if m == nil {
		return
	}
	m.PersistTotal.WithLabelValues(outcome).Inc()
}

// ObserveReconcile records a finished pass.
func (m *Metrics) ObserveReconcile(result string, changes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReconcilePasses.WithLabelValues(result).Inc()
	m.ReconcileChanges.Add(float64(changes))
	m.ReconcileDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveDirectoryRequest(endpoint, result string) {
	if m == nil {
		return
	}
	m.DirectoryRequests.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) IncrementDirectoryRetries() {
	if m == nil {
		return
	}
	m.DirectoryRetries.Inc()
}

func (m *Metrics) IncrementPollsOpened() {
	if m == nil {
		return
	}
	m.PollsOpened.Inc()
}

func (m *Metrics) IncrementPollsClosed() {
	if m == nil {
		return
	}
	m.PollsClosed.Inc()
}

func (m *Metrics) IncrementPollVotes() {
	if m == nil {
		return
	}
	m.PollVotes.Inc()
}

func (m *Metrics) IncrementSkippedRuns() {
	if m == nil {
		return
	}
	m.SchedulerSkippedRun.Inc()
}
