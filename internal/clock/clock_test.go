package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReal_SleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Real{}.Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReal_SleepZeroReturnsImmediately(t *testing.T) {
	require.NoError(t, Real{}.Sleep(context.Background(), 0))
}

func TestReal_TimerFires(t *testing.T) {
	timer := Real{}.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		require.Fail(t, "timer did not fire")
	}
	require.False(t, timer.Stop())
}

func TestOrReal(t *testing.T) {
	require.IsType(t, Real{}, OrReal(nil))
}
