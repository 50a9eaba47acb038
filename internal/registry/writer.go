package registry

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/rostersync/internal/clock"
)

// coalescingWriter serializes physical writes. A request that arrives while
// a write is running only marks the writer pending; the goroutine that owns
// the running write performs exactly one follow-up write for the whole
// burst once it finishes.
type coalescingWriter struct {
	clock  clock.Clock
	settle time.Duration
	write  func(ctx context.Context)

	mu      sync.Mutex
	writing bool
	pending bool
}

func newCoalescingWriter(c clock.Clock, settle time.Duration, write func(ctx context.Context)) *coalescingWriter {
	return &coalescingWriter{clock: c, settle: settle, write: write}
}

func (w *coalescingWriter) request(ctx context.Context) {
	w.mu.Lock()
	if w.writing {
		w.pending = true
		w.mu.Unlock()
		return
	}
	w.writing = true
	w.mu.Unlock()

	// Cancelling the caller must not drop the follow-up write.
	ctx = context.WithoutCancel(ctx)
	for {
		w.write(ctx)

		w.mu.Lock()
		if !w.pending {
			w.writing = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		_ = w.clock.Sleep(ctx, w.settle)

		w.mu.Lock()
		w.pending = false
		w.mu.Unlock()
	}
}
