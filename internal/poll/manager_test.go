package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/rostersync/internal/pubsub"
	"github.com/zjrosen/rostersync/internal/testutil"
)

func waitClosed(t *testing.T, m *Manager, id string) Closed {
	t.Helper()
	var closed Closed
	require.Eventually(t, func() bool {
		_, c, done, err := m.Result(context.Background(), id, 0)
		if err != nil {
			return false
		}
		closed = c
		return done
	}, 5*time.Second, 5*time.Millisecond)
	return closed
}

func TestManager_OpenVoteClose(t *testing.T) {
	clk := testutil.NewFakeClock()
	broker := pubsub.NewBroker[Closed]()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	m := NewManager(ManagerConfig{Clock: clk, Publisher: broker})

	sum, err := m.Open("  Lunch? ", []string{"Yes", "No"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, sum.ID)
	require.Equal(t, "Lunch?", sum.Title)
	require.Equal(t, "open", sum.State)
	require.Equal(t, clk.Now().Add(DefaultDuration), sum.Deadline)
	require.Len(t, m.Active(), 1)

	require.NoError(t, m.Vote(sum.ID, "A", 0))
	require.NoError(t, m.Vote(sum.ID, "B", 1))
	require.NoError(t, m.Vote(sum.ID, "A", 1))

	_, _, done, err := m.Result(context.Background(), sum.ID, 0)
	require.NoError(t, err)
	require.False(t, done)

	clk.Advance(DefaultDuration)
	closed := waitClosed(t, m, sum.ID)
	require.Equal(t, []Tally{{"Yes", 0}, {"No", 2}}, closed.Result.Tallies)
	require.Empty(t, m.Active())

	require.ErrorIs(t, m.Vote(sum.ID, "C", 0), ErrClosed)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	ev, ok := pubsub.Next(waitCtx, sub)
	require.True(t, ok)
	require.Equal(t, pubsub.PollClosedEvent, ev.Type)
	require.Equal(t, sum.ID, ev.Payload.ID)
}

func TestManager_ResultWaitsForClose(t *testing.T) {
	clk := testutil.NewFakeClock()
	m := NewManager(ManagerConfig{Clock: clk})

	sum, err := m.Open("", []string{"x"}, 10*time.Second)
	require.NoError(t, err)
	require.True(t, clk.WaitForTimers(1, time.Second))

	go func() {
		time.Sleep(20 * time.Millisecond)
		clk.Advance(10 * time.Second)
	}()

	_, closed, done, err := m.Result(context.Background(), sum.ID, 5*time.Second)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []Tally{{"x", 0}}, closed.Result.Tallies)
}

func TestManager_ResultWaitTimesOutWhileOpen(t *testing.T) {
	m := NewManager(ManagerConfig{Clock: testutil.NewFakeClock()})
	sum, err := m.Open("", []string{"x"}, time.Minute)
	require.NoError(t, err)

	got, _, done, err := m.Result(context.Background(), sum.ID, 10*time.Millisecond)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, sum.ID, got.ID)
}

func TestManager_UnknownPoll(t *testing.T) {
	m := NewManager(ManagerConfig{Clock: testutil.NewFakeClock()})

	require.ErrorIs(t, m.Vote("nope", "A", 0), ErrNotFound)
	_, _, _, err := m.Result(context.Background(), "nope", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Validation(t *testing.T) {
	m := NewManager(ManagerConfig{Clock: testutil.NewFakeClock(), MaxDuration: time.Hour})

	_, err := m.Open("", nil, 0)
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = m.Open("", []string{"x"}, 2*time.Hour)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = m.Open("", []string{"x"}, -time.Second)
	require.ErrorIs(t, err, ErrInvalidDuration)

	sum, err := m.Open("", []string{"x", "y"}, time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, m.Vote(sum.ID, "A", 5), ErrInvalidOption)
}
