package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/rostersync/internal/cachemanager"
	"github.com/zjrosen/rostersync/internal/clock"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/metrics"
	"github.com/zjrosen/rostersync/internal/pubsub"
)

// ErrNotFound is returned for an unknown or expired poll ID.
var ErrNotFound = errors.New("poll not found")

// DefaultResultTTL is how long a closed poll's result stays retrievable.
const DefaultResultTTL = time.Hour

// Summary describes a poll for callers that are not waiting on it.
type Summary struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Options  []string  `json:"options"`
	Deadline time.Time `json:"deadline"`
	State    string    `json:"state"`
}

// Closed is published when a managed poll closes.
type Closed struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Result Result `json:"result"`
}

type ManagerConfig struct {
	Clock           clock.Clock
	DefaultDuration time.Duration
	// MaxDuration caps requested durations. Zero means no cap.
	MaxDuration time.Duration
	ResultTTL   time.Duration
	Metrics     *metrics.Metrics
	Publisher   pubsub.Publisher[Closed]
}

type entry struct {
	id    string
	title string
	poll  *Poll
}

// Manager runs any number of independent polls keyed by generated IDs and
// keeps closed results around for ResultTTL.
type Manager struct {
	clock      clock.Clock
	defaultDur time.Duration
	maxDur     time.Duration
	resultTTL  time.Duration
	metrics    *metrics.Metrics
	publisher  pubsub.Publisher[Closed]
	results    cachemanager.CacheManager[string, Closed]

	mu     sync.Mutex
	active map[string]*entry
}

func NewManager(cfg ManagerConfig) *Manager {
	def := cfg.DefaultDuration
	if def <= 0 {
		def = DefaultDuration
	}
	ttl := cfg.ResultTTL
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Manager{
		clock:      clock.OrReal(cfg.Clock),
		defaultDur: def,
		maxDur:     cfg.MaxDuration,
		resultTTL:  ttl,
		metrics:    cfg.Metrics,
		publisher:  cfg.Publisher,
		results:    cachemanager.NewInMemoryCacheManager[string, Closed]("poll-results", ttl, cachemanager.DefaultCleanupInterval),
		active:     make(map[string]*entry),
	}
}

// Open starts a poll. A zero duration uses the default.
func (m *Manager) Open(title string, options []string, duration time.Duration) (Summary, error) {
	if duration == 0 {
		duration = m.defaultDur
	}
	if m.maxDur > 0 && duration > m.maxDur {
		return Summary{}, fmt.Errorf("%w: %s exceeds maximum %s", ErrInvalidDuration, duration, m.maxDur)
	}

	p, err := New(options, duration, m.clock)
	if err != nil {
		return Summary{}, err
	}

	e := &entry{id: uuid.NewString(), title: strings.TrimSpace(title), poll: p}
	m.mu.Lock()
	m.active[e.id] = e
	m.mu.Unlock()

	m.metrics.IncrementPollsOpened()
	log.Info(log.CatPoll, "poll opened", "id", e.id, "options", len(p.options), "deadline", p.deadline)

	go m.collect(e)
	return e.summary(), nil
}

func (m *Manager) collect(e *entry) {
	res, err := e.poll.AwaitResult(context.Background())
	if err != nil {
		return
	}
	closed := Closed{ID: e.id, Title: e.title, Result: res}
	m.results.Set(context.Background(), e.id, closed, m.resultTTL)

	m.mu.Lock()
	delete(m.active, e.id)
	m.mu.Unlock()

	m.metrics.IncrementPollsClosed()
	log.Info(log.CatPoll, "poll closed", "id", e.id, "voters", res.Voters)
	if m.publisher != nil {
		m.publisher.Publish(pubsub.PollClosedEvent, closed)
	}
}

// Vote submits voter's choice on poll id.
func (m *Manager) Vote(id, voter string, index int) error {
	e, ok := m.lookup(id)
	if !ok {
		if _, closed := m.results.Get(context.Background(), id); closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := e.poll.SubmitVote(voter, index); err != nil {
		return err
	}
	m.metrics.IncrementPollVotes()
	return nil
}

// Result returns the final result of poll id, waiting up to wait for it to
// close. done is false when the poll is still open after waiting, in which
// case only the summary is meaningful.
func (m *Manager) Result(ctx context.Context, id string, wait time.Duration) (Summary, Closed, bool, error) {
	if closed, ok := m.results.Get(ctx, id); ok {
		return m.closedSummary(closed), closed, true, nil
	}
	e, ok := m.lookup(id)
	if !ok {
		return Summary{}, Closed{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if wait <= 0 {
		return e.summary(), Closed{}, false, nil
	}

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	res, err := e.poll.AwaitResult(wctx)
	if err != nil {
		if ctx.Err() != nil {
			return Summary{}, Closed{}, false, ctx.Err()
		}
		return e.summary(), Closed{}, false, nil
	}
	return e.summary(), Closed{ID: e.id, Title: e.title, Result: res}, true, nil
}

// Active lists polls that have not closed yet.
func (m *Manager) Active() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, e.summary())
	}
	return out
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[id]
	return e, ok
}

func (m *Manager) closedSummary(c Closed) Summary {
	opts := make([]string, len(c.Result.Tallies))
	for i, t := range c.Result.Tallies {
		opts[i] = t.Option
	}
	return Summary{ID: c.ID, Title: c.Title, Options: opts, Deadline: c.Result.ClosedAt, State: StateClosed.String()}
}

func (e *entry) summary() Summary {
	return Summary{
		ID:       e.id,
		Title:    e.title,
		Options:  e.poll.Options(),
		Deadline: e.poll.Deadline(),
		State:    e.poll.State().String(),
	}
}
