package reconcile_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/rostersync/internal/directory"
	"github.com/zjrosen/rostersync/internal/mocks"
	"github.com/zjrosen/rostersync/internal/pubsub"
	"github.com/zjrosen/rostersync/internal/reconcile"
	"github.com/zjrosen/rostersync/internal/registry"
	"github.com/zjrosen/rostersync/internal/testutil"
)

// countingRegistry counts Persist calls on top of a real store.
type countingRegistry struct {
	*registry.Store
	persists atomic.Int32
}

func (r *countingRegistry) Persist(ctx context.Context) {
	r.persists.Add(1)
	r.Store.Persist(ctx)
}

type fixture struct {
	reg      *countingRegistry
	resolver *mocks.MockResolver
	clock    *testutil.FakeClock
	engine   *reconcile.Engine
}

func newFixture(t *testing.T, keys ...string) *fixture {
	t.Helper()
	clk := testutil.NewFakeClock()
	store := registry.New(registry.Config{Path: "/data/data.json", Fs: afero.NewMemMapFs(), Clock: clk})
	for _, k := range keys {
		store.Put(k, registry.Record{DisplayName: "old-" + k, OwnerRef: "123456789012345678"})
	}
	reg := &countingRegistry{Store: store}
	resolver := mocks.NewMockResolver(t)
	return &fixture{
		reg:      reg,
		resolver: resolver,
		clock:    clk,
		engine:   reconcile.NewEngine(reconcile.Config{Registry: reg, Resolver: resolver, Clock: clk}),
	}
}

func identity(name string) directory.Identity {
	return directory.Identity{ID: 1, DisplayName: name}
}

func TestRun_EmptyRegistryIsNoop(t *testing.T) {
	f := newFixture(t)

	report, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Changes)
	require.Zero(t, f.reg.persists.Load())
	require.Empty(t, f.clock.Sleeps())
	f.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestRun_RecordsChangesInRegistryOrder(t *testing.T) {
	f := newFixture(t, "zeta", "alpha", "mid")
	f.resolver.On("Resolve", mock.Anything, "zeta").Return(identity("Zeta New"), nil).Once()
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("old-alpha"), nil).Once()
	f.resolver.On("Resolve", mock.Anything, "mid").Return(identity("Mid New"), nil).Once()

	report, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []reconcile.Change{
		{Key: "zeta", Previous: "old-zeta", Current: "Zeta New"},
		{Key: "mid", Previous: "old-mid", Current: "Mid New"},
	}, report.Changes)
	require.Equal(t, 3, report.Checked)

	rec, _ := f.reg.Get("zeta")
	require.Equal(t, "Zeta New", rec.DisplayName)
	require.Equal(t, "123456789012345678", rec.OwnerRef, "owner reference is never rewritten")
	require.Equal(t, int32(1), f.reg.persists.Load(), "persist exactly once per pass")
}

func TestRun_TwelveKeysTwoBatchesTwelvePacingDelays(t *testing.T) {
	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("player%02d", i)
	}
	f := newFixture(t, keys...)
	f.resolver.On("Resolve", mock.Anything, mock.Anything).Return(identity("same"), nil).Times(12)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f.engine = reconcile.NewEngine(reconcile.Config{Registry: f.reg, Resolver: f.resolver, Clock: f.clock, Tracer: tp.Tracer("test")})

	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	sleeps := f.clock.Sleeps()
	require.Len(t, sleeps, 12)
	for _, d := range sleeps {
		require.Equal(t, 2*time.Second, d)
	}

	var batches []int
	for _, s := range recorder.Ended() {
		if s.Name() != "reconcile.batch" {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "reconcile.batch_size" {
				batches = append(batches, int(kv.Value.AsInt64()))
			}
		}
	}
	require.Equal(t, []int{10, 2}, batches)

	// Resolution is sequential and in registry order.
	var order []string
	for _, call := range f.resolver.Calls {
		order = append(order, call.Arguments.String(1))
	}
	require.Equal(t, keys, order)
}

func TestRun_IsIdempotent(t *testing.T) {
	f := newFixture(t, "alpha", "bravo")
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("Alpha"), nil)
	f.resolver.On("Resolve", mock.Anything, "bravo").Return(identity("Bravo"), nil)

	first, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Changes, 2)

	second, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, second.Changes)
}

func TestRun_SingleFailureDoesNotAbortPass(t *testing.T) {
	f := newFixture(t, "alpha", "limited", "charlie")
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("A"), nil)
	f.resolver.On("Resolve", mock.Anything, "limited").Return(directory.Identity{}, directory.ErrRateLimited)
	f.resolver.On("Resolve", mock.Anything, "charlie").Return(identity("C"), nil)

	report, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Changes, 2)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "limited", report.Failures[0].Key)
	require.ErrorIs(t, report.Failures[0].Err, directory.ErrRateLimited)
	require.Equal(t, "partial", report.Result(nil))

	rec, _ := f.reg.Get("limited")
	require.Equal(t, "old-limited", rec.DisplayName, "failed keys keep their cached name")
	require.Len(t, f.clock.Sleeps(), 3, "failed keys are paced too")
}

func TestRun_KeyDeletedMidPassIsNotRecreated(t *testing.T) {
	f := newFixture(t, "alpha", "gone")
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("A"), nil).Run(func(mock.Arguments) {
		f.reg.Delete("gone")
	})

	report, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Changes, 1)
	_, ok := f.reg.Get("gone")
	require.False(t, ok)
}

func TestRun_KeyDeletedDuringResolveIsNotRecorded(t *testing.T) {
	f := newFixture(t, "alpha")
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("A"), nil).Run(func(mock.Arguments) {
		f.reg.Delete("alpha")
	})

	report, err := f.engine.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Changes)
	require.Zero(t, f.reg.Len())
}

func TestRun_CancelledPersistsPartialWork(t *testing.T) {
	f := newFixture(t, "alpha", "bravo", "charlie")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("A"), nil).Run(func(mock.Arguments) {
		cancel()
	})

	report, err := f.engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []reconcile.Change{{Key: "alpha", Previous: "old-alpha", Current: "A"}}, report.Changes)
	require.Equal(t, int32(1), f.reg.persists.Load())
	require.Equal(t, "cancelled", report.Result(err))
}

func TestRun_OverlappingPassIsRejected(t *testing.T) {
	f := newFixture(t, "alpha")
	entered := make(chan struct{})
	release := make(chan struct{})
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("A"), nil).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Run(context.Background())
		done <- err
	}()
	<-entered

	require.True(t, f.engine.Running())
	_, err := f.engine.Run(context.Background())
	require.ErrorIs(t, err, reconcile.ErrPassInProgress)

	close(release)
	require.NoError(t, <-done)
	require.False(t, f.engine.Running())
}

func TestRun_PublishesReport(t *testing.T) {
	f := newFixture(t, "alpha")
	f.resolver.On("Resolve", mock.Anything, "alpha").Return(identity("A"), nil)

	broker := pubsub.NewBroker[reconcile.Report]()
	defer broker.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := broker.Subscribe(ctx)

	f.engine = reconcile.NewEngine(reconcile.Config{Registry: f.reg, Resolver: f.resolver, Clock: f.clock, Publisher: broker})
	_, err := f.engine.Run(context.Background())
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	ev, ok := pubsub.Next(waitCtx, sub)
	require.True(t, ok)
	require.Equal(t, pubsub.ReconciledEvent, ev.Type)
	require.Len(t, ev.Payload.Changes, 1)
}

func TestBatches(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}

	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, reconcile.Batches(keys, 2))
	require.Equal(t, [][]string{keys}, reconcile.Batches(keys, 10))
	require.Empty(t, reconcile.Batches(nil, 10))
	require.Len(t, reconcile.Batches(keys, 0), 1, "non-positive size falls back to the default")
}
