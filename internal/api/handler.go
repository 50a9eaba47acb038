// Package api provides the admin HTTP API: member management, ad-hoc
// lookups, manual reconciliation and polls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/poll"
	"github.com/zjrosen/rostersync/internal/presentation"
	"github.com/zjrosen/rostersync/internal/pubsub"
	"github.com/zjrosen/rostersync/internal/reconcile"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/report"
	"github.com/zjrosen/rostersync/internal/roster"
	"github.com/zjrosen/rostersync/internal/tracing"
)

// maxPollWait caps the ?wait= parameter on poll results.
const maxPollWait = 5 * time.Minute

// Roster is the member management surface.
type Roster interface {
	IsAdmin(callerID string) bool
	CommunityTag() string
	Add(ctx context.Context, key, ownerRef string) (registry.Member, error)
	Delete(ctx context.Context, key string) error
	Reset(ctx context.Context) int
	Pages(size int) []report.Page
	Untagged() []registry.Member
	Lookup(ctx context.Context, key string) (directory.Profile, error)
}

// Reconciler runs a reconciliation pass on demand.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Polls manages timed polls.
type Polls interface {
	Open(title string, options []string, duration time.Duration) (poll.Summary, error)
	Vote(id, voter string, index int) error
	Result(ctx context.Context, id string, wait time.Duration) (poll.Summary, poll.Closed, bool, error)
	Active() []poll.Summary
}

// Handler provides HTTP endpoints for rostersync operations.
type Handler struct {
	roster     Roster
	reconciler Reconciler
	polls      Polls
	gatherer   prometheus.Gatherer
	tracer     trace.Tracer
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	Roster     Roster
	Reconciler Reconciler
	Polls      Polls
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// Tracer creates a span per request. Nil disables request tracing.
	Tracer trace.Tracer
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Handler{
		roster:     cfg.Roster,
		reconciler: cfg.Reconciler,
		polls:      cfg.Polls,
		gatherer:   g,
		tracer:     cfg.Tracer,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(tracing.HTTPMiddleware(h.tracer))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Open to any caller
	r.Get("/lookup/{key}", h.Lookup)
	r.Post("/polls/{id}/votes", h.Vote)
	r.Get("/polls/{id}", h.PollResult)
	r.Get("/polls", h.ListPolls)

	// Admin only
	r.Group(func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/members", h.ListMembers)
		r.Get("/members/untagged", h.Untagged)
		r.Post("/members", h.AddMember)
		r.Delete("/members/{key}", h.DeleteMember)
		r.Delete("/members", h.ResetMembers)
		r.Post("/reconcile", h.Reconcile)
		r.Post("/polls", h.CreatePoll)
		r.Get("/logs", h.StreamLogs)
	})

	return r
}

// === Request/Response Types ===

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response body for the health check.
type HealthResponse struct {
	Status string `json:"status"`
}

// Response bodies shared with the CLI output.
type (
	MemberResponse      = presentation.MemberDTO
	ListMembersResponse = presentation.ListingDTO
	UntaggedResponse    = presentation.UntaggedDTO
	ProfileResponse     = presentation.ProfileDTO
	ReconcileResponse   = presentation.ReconcileDTO
)

// AddMemberRequest is the request body for adding a member.
type AddMemberRequest struct {
	Username string `json:"username"`
	OwnerRef string `json:"owner_ref"`
}

// ResetResponse reports how many members a reset removed.
type ResetResponse struct {
	Removed int `json:"removed"`
}

// CreatePollRequest is the request body for opening a poll. Options is a
// comma-separated list.
type CreatePollRequest struct {
	Title           string `json:"title"`
	Options         string `json:"options"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// VoteRequest selects an option by zero-based index.
type VoteRequest struct {
	Option *int `json:"option"`
}

// ListPollsResponse lists open polls.
type ListPollsResponse struct {
	Polls []poll.Summary `json:"polls"`
}

// === Handlers ===

// Health returns the health status of the API server.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StreamLogs writes log lines as they are produced until the client goes
// away.
// GET /logs
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	events := log.Subscribe(r.Context())
	if events == nil {
		h.writeError(w, http.StatusServiceUnavailable, "logging_disabled", "logging is not initialized", "")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for {
		ev, ok := pubsub.Next(r.Context(), events)
		if !ok {
			return
		}
		if _, err := io.WriteString(w, ev.Payload); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

// ListMembers returns the registry sorted by display name, 25 per page.
// GET /members
func (h *Handler) ListMembers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, presentation.FromPages(h.roster.Pages(report.PageSize)))
}

// Untagged lists members whose display name lacks the community tag.
// GET /members/untagged
func (h *Handler) Untagged(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, presentation.FromUntagged(h.roster.CommunityTag(), h.roster.Untagged()))
}

// AddMember registers a username after resolving it in the directory.
// POST /members
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}

	m, err := h.roster.Add(r.Context(), req.Username, req.OwnerRef)
	if err != nil {
		h.writeRosterError(w, "add_failed", err)
		return
	}

	log.Info(log.CatAPI, "member added", "key", m.Key, "caller", callerID(r))
	h.writeJSON(w, http.StatusCreated, presentation.FromMember(m))
}

// DeleteMember removes one username.
// DELETE /members/{key}
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.roster.Delete(r.Context(), key); err != nil {
		h.writeRosterError(w, "delete_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"deleted": key})
}

// ResetMembers removes every member.
// DELETE /members
func (h *Handler) ResetMembers(w http.ResponseWriter, r *http.Request) {
	n := h.roster.Reset(r.Context())
	log.Warn(log.CatAPI, "registry reset", "removed", n, "caller", callerID(r))
	h.writeJSON(w, http.StatusOK, ResetResponse{Removed: n})
}

// Lookup returns a live profile for a username without registering it.
// GET /lookup/{key}
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	p, err := h.roster.Lookup(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.writeRosterError(w, "lookup_failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, presentation.FromProfile(p))
}

// Reconcile runs a pass now and returns its report. The pass keeps running
// if the client disconnects.
// POST /reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reconciler.Run(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, reconcile.ErrPassInProgress):
		h.writeError(w, http.StatusConflict, "pass_in_progress", "A reconciliation pass is already running", "")
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "reconcile_failed", "Reconciliation failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, presentation.FromReport(rep))
}

// CreatePoll opens a timed poll.
// POST /polls
func (h *Handler) CreatePoll(w http.ResponseWriter, r *http.Request) {
	var req CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.DurationSeconds < 0 {
		h.writeError(w, http.StatusBadRequest, "validation_error", "duration_seconds must not be negative", "")
		return
	}

	options, err := poll.ParseOptions(req.Options)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
		return
	}

	summary, err := h.polls.Open(req.Title, options, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		h.writePollError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, summary)
}

// Vote records the caller's choice. A later vote replaces an earlier one.
// POST /polls/{id}/votes
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	voter := callerID(r)
	if voter == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", tracing.CallerHeader+" header is required to vote", "")
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body", err.Error())
		return
	}
	if req.Option == nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "option is required", "")
		return
	}

	if err := h.polls.Vote(chi.URLParam(r, "id"), voter, *req.Option); err != nil {
		h.writePollError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PollResult returns the final tally, waiting up to ?wait= seconds for an
// open poll to close. An open poll answers 202 with its summary.
// GET /polls/{id}
func (h *Handler) PollResult(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			h.writeError(w, http.StatusBadRequest, "validation_error", "wait must be a non-negative number of seconds", "")
			return
		}
		wait = min(time.Duration(secs)*time.Second, maxPollWait)
	}

	summary, closed, done, err := h.polls.Result(r.Context(), chi.URLParam(r, "id"), wait)
	if err != nil {
		h.writePollError(w, err)
		return
	}
	if !done {
		h.writeJSON(w, http.StatusAccepted, summary)
		return
	}
	h.writeJSON(w, http.StatusOK, closed)
}

// ListPolls lists open polls.
// GET /polls
func (h *Handler) ListPolls(w http.ResponseWriter, _ *http.Request) {
	polls := h.polls.Active()
	if polls == nil {
		polls = []poll.Summary{}
	}
	h.writeJSON(w, http.StatusOK, ListPollsResponse{Polls: polls})
}

// === Helpers ===

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerID(r)
		if !h.roster.IsAdmin(caller) {
			log.Warn(log.CatAPI, "admin route refused", "path", r.URL.Path, "caller", caller)
			h.writeError(w, http.StatusForbidden, "forbidden", "Admin access required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerID(r *http.Request) string {
	return r.Header.Get(tracing.CallerHeader)
}

func (h *Handler) writeRosterError(w http.ResponseWriter, code string, err error) {
	switch {
	case errors.Is(err, roster.ErrValidation):
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
	case errors.Is(err, roster.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
	case errors.Is(err, roster.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", err.Error(), "")
	case errors.Is(err, directory.ErrRateLimited):
		h.writeError(w, http.StatusServiceUnavailable, "rate_limited", "Directory rate limit exhausted", err.Error())
	default:
		log.ErrorErr(log.CatAPI, "request failed", err, "code", code)
		h.writeError(w, http.StatusBadGateway, code, "Directory request failed", err.Error())
	}
}

func (h *Handler) writePollError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, poll.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", err.Error(), "")
	case errors.Is(err, poll.ErrClosed):
		h.writeError(w, http.StatusConflict, "poll_closed", err.Error(), "")
	case errors.Is(err, poll.ErrInvalidOptions), errors.Is(err, poll.ErrInvalidDuration), errors.Is(err, poll.ErrInvalidOption):
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusServiceUnavailable, "cancelled", "Request cancelled", err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "poll_failed", "Poll operation failed", err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
