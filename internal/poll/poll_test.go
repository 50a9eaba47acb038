package poll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/rostersync/internal/testutil"
)

// expire advances clk past p's deadline and waits for the tally.
func expire(t testing.TB, clk *testutil.FakeClock, p *Poll) Result {
	t.Helper()
	clk.Advance(p.Deadline().Sub(clk.Now()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := p.AwaitResult(ctx)
	require.NoError(t, err)
	return res
}

func TestPoll_YesNoScenario(t *testing.T) {
	clk := testutil.NewFakeClock()
	p, err := New([]string{"Yes", "No"}, 60*time.Second, clk)
	require.NoError(t, err)

	require.NoError(t, p.SubmitVote("A", 0))
	require.NoError(t, p.SubmitVote("B", 1))
	require.NoError(t, p.SubmitVote("A", 1))

	res := expire(t, clk, p)
	require.Equal(t, []Tally{{Option: "Yes", Count: 0}, {Option: "No", Count: 2}}, res.Tallies)
	require.Equal(t, 2, res.Voters)
	require.Equal(t, StateClosed, p.State())
}

func TestPoll_ZeroVotesTalliesZeros(t *testing.T) {
	clk := testutil.NewFakeClock()
	p, err := New([]string{"a", "b", "c"}, time.Minute, clk)
	require.NoError(t, err)

	res := expire(t, clk, p)
	require.Equal(t, []Tally{{"a", 0}, {"b", 0}, {"c", 0}}, res.Tallies)
}

func TestPoll_DuplicateLabelsTalliedByIndex(t *testing.T) {
	clk := testutil.NewFakeClock()
	p, err := New([]string{"Same", "Same"}, time.Minute, clk)
	require.NoError(t, err)

	require.NoError(t, p.SubmitVote("A", 1))
	require.NoError(t, p.SubmitVote("B", 1))
	require.NoError(t, p.SubmitVote("C", 0))

	res := expire(t, clk, p)
	require.Equal(t, []Tally{{"Same", 1}, {"Same", 2}}, res.Tallies)
}

func TestPoll_OutOfRangeVoteRejected(t *testing.T) {
	clk := testutil.NewFakeClock()
	p, err := New([]string{"x", "y"}, time.Minute, clk)
	require.NoError(t, err)

	require.NoError(t, p.SubmitVote("A", 0))
	require.ErrorIs(t, p.SubmitVote("A", 2), ErrInvalidOption)
	require.ErrorIs(t, p.SubmitVote("B", -1), ErrInvalidOption)

	res := expire(t, clk, p)
	require.Equal(t, []Tally{{"x", 1}, {"y", 0}}, res.Tallies, "rejected vote must not overwrite")
}

func TestPoll_VotesAfterDeadlineRejected(t *testing.T) {
	clk := testutil.NewFakeClock()
	p, err := New([]string{"x", "y"}, time.Minute, clk)
	require.NoError(t, err)
	require.NoError(t, p.SubmitVote("A", 0))

	clk.Advance(time.Minute)
	// Rejected even if the close goroutine has not run yet.
	require.ErrorIs(t, p.SubmitVote("B", 1), ErrClosed)

	res, err := p.AwaitResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Tally{{"x", 1}, {"y", 0}}, res.Tallies)
	require.ErrorIs(t, p.SubmitVote("C", 1), ErrClosed)
}

func TestPoll_AwaitResultHonorsContext(t *testing.T) {
	p, err := New([]string{"x"}, time.Minute, testutil.NewFakeClock())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AwaitResult(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateOpen, p.State())
}

func TestNew_Validation(t *testing.T) {
	clk := testutil.NewFakeClock()
	tests := []struct {
		name     string
		options  []string
		duration time.Duration
		wantErr  error
	}{
		{"no options", nil, time.Minute, ErrInvalidOptions},
		{"six options", []string{"1", "2", "3", "4", "5", "6"}, time.Minute, ErrInvalidOptions},
		{"blank option", []string{"ok", "   "}, time.Minute, ErrInvalidOptions},
		{"zero duration", []string{"ok"}, 0, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.options, tt.duration, clk)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	p, err := New([]string{"  padded "}, time.Minute, clk)
	require.NoError(t, err)
	require.Equal(t, []string{"padded"}, p.Options())
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(" Yes , No,, Maybe ,")
	require.NoError(t, err)
	require.Equal(t, []string{"Yes", "No", "Maybe"}, opts)

	_, err = ParseOptions(" , ,")
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = ParseOptions("a,b,c,d,e,f")
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestPoll_ConcurrentVoters(t *testing.T) {
	clk := testutil.NewFakeClock()
	p, err := New([]string{"a", "b", "c"}, time.Minute, clk)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = p.SubmitVote(fmt.Sprintf("voter-%d", i), i%3)
		}(i)
	}
	wg.Wait()

	res := expire(t, clk, p)
	require.Equal(t, []Tally{{"a", 100}, {"b", 100}, {"c", 100}}, res.Tallies)
	require.Equal(t, 300, res.Voters)
}

func TestPoll_LastVoteWins_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nOpts := rapid.IntRange(MinOptions, MaxOptions).Draw(rt, "options")
		opts := make([]string, nOpts)
		for i := range opts {
			opts[i] = fmt.Sprintf("opt%d", i)
		}
		clk := testutil.NewFakeClock()
		p, err := New(opts, time.Minute, clk)
		if err != nil {
			rt.Fatalf("New: %v", err)
		}

		voters := []string{"A", "B", "C", "D"}
		last := map[string]int{}
		nVotes := rapid.IntRange(0, 30).Draw(rt, "votes")
		for i := 0; i < nVotes; i++ {
			v := rapid.SampledFrom(voters).Draw(rt, "voter")
			idx := rapid.IntRange(-1, nOpts).Draw(rt, "index")
			err := p.SubmitVote(v, idx)
			if idx < 0 || idx >= nOpts {
				if err == nil {
					rt.Fatalf("out-of-range vote %d accepted", idx)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("vote rejected: %v", err)
			}
			last[v] = idx
		}

		clk.Advance(time.Minute)
		late := rapid.IntRange(0, 5).Draw(rt, "late")
		for i := 0; i < late; i++ {
			if err := p.SubmitVote("late-voter", 0); err == nil {
				rt.Fatalf("late vote accepted")
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := p.AwaitResult(ctx)
		if err != nil {
			rt.Fatalf("AwaitResult: %v", err)
		}

		want := make([]int, nOpts)
		for _, idx := range last {
			want[idx]++
		}
		got := make([]int, nOpts)
		total := 0
		for i, tally := range res.Tallies {
			got[i] = tally.Count
			total += tally.Count
		}
		require.Equal(rt, want, got)
		require.Equal(rt, len(last), total)
	})
}
