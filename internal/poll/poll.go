// Package poll implements timed polls: votes are collected from many
// voters concurrently until a deadline, then tallied exactly once.
package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/rostersync/internal/clock"
)

const (
	MinOptions      = 1
	MaxOptions      = 5
	DefaultDuration = 60 * time.Second
)

var (
	ErrInvalidOptions  = errors.New("poll needs between 1 and 5 non-empty options")
	ErrInvalidDuration = errors.New("poll duration must be positive")
	ErrInvalidOption   = errors.New("option index out of range")
	ErrClosed          = errors.New("poll is closed")
)

// State is the poll lifecycle: Open, then Closing while the tally is
// computed, then Closed for good.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Tally is the vote count for one option, by position.
type Tally struct {
	Option string `json:"option"`
	Count  int    `json:"count"`
}

// Result is the final outcome of a closed poll. Tallies follow the option
// order; duplicate labels are counted separately by position.
type Result struct {
	Tallies  []Tally   `json:"tallies"`
	Voters   int       `json:"voters"`
	ClosedAt time.Time `json:"closed_at"`
}

// Poll is one timed poll. Use SubmitVote and AwaitResult; the deadline
// timer closes it.
type Poll struct {
	options  []string
	deadline time.Time
	clock    clock.Clock

	mu     sync.Mutex
	state  State
	votes  map[string]int
	result Result
	done   chan struct{}
}

// ParseOptions splits a comma separated option list, trimming entries and
// dropping empty ones.
func ParseOptions(raw string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) < MinOptions || len(out) > MaxOptions {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOptions, len(out))
	}
	return out, nil
}

// New validates options and starts a poll that closes after duration.
func New(options []string, duration time.Duration, clk clock.Clock) (*Poll, error) {
	if len(options) < MinOptions || len(options) > MaxOptions {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOptions, len(options))
	}
	trimmed := make([]string, len(options))
	for i, o := range options {
		trimmed[i] = strings.TrimSpace(o)
		if trimmed[i] == "" {
			return nil, fmt.Errorf("%w: option %d is empty", ErrInvalidOptions, i+1)
		}
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	clk = clock.OrReal(clk)
	p := &Poll{
		options:  trimmed,
		deadline: clk.Now().Add(duration),
		clock:    clk,
		votes:    make(map[string]int),
		done:     make(chan struct{}),
	}
	timer := clk.NewTimer(duration)
	go func() {
		<-timer.C()
		p.close()
	}()
	return p, nil
}

// Options returns the validated option labels.
func (p *Poll) Options() []string {
	return append([]string(nil), p.options...)
}

func (p *Poll) Deadline() time.Time {
	return p.deadline
}

func (p *Poll) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SubmitVote records voter's choice, replacing any earlier vote by the same
// voter. Out-of-range indexes and votes at or after the deadline are
// rejected and leave the poll unchanged.
func (p *Poll) SubmitVote(voter string, index int) error {
	if index < 0 || index >= len(p.options) {
		return fmt.Errorf("%w: %d (have %d options)", ErrInvalidOption, index, len(p.options))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateOpen || !p.clock.Now().Before(p.deadline) {
		return ErrClosed
	}
	p.votes[voter] = index
	return nil
}

// AwaitResult blocks until the poll has closed or ctx is done.
func (p *Poll) AwaitResult(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// close runs once, from the deadline timer.
func (p *Poll) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateOpen {
		return
	}
	p.state = StateClosing

	tallies := make([]Tally, len(p.options))
	for i, o := range p.options {
		tallies[i] = Tally{Option: o}
	}
	for _, idx := range p.votes {
		tallies[idx].Count++
	}
	p.result = Result{Tallies: tallies, Voters: len(p.votes), ClosedAt: p.clock.Now()}
	p.votes = nil

	p.state = StateClosed
	close(p.done)
}
