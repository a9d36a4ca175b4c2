package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bastionbot/bastion"
)

// defaultFlushDelay is the debounce window: a burst of drops against the
// same document becomes one remote batch.
const defaultFlushDelay = 2 * time.Second

// flusher coalesces queued sheet writes. Enqueued updates sit for the
// debounce window, then go out as a single BatchUpdate under the owning
// document's lock. flush drains synchronously for callers that need the
// error.
type flusher struct {
	client bastion.SheetClient
	logger *slog.Logger
	delay  time.Duration

	// mu is the owning scanner's document lock.
	mu *sync.Mutex

	pendingMu sync.Mutex
	pending   []bastion.Update
	timer     *time.Timer
}

func newFlusher(client bastion.SheetClient) *flusher {
	return &flusher{
		client: client,
		logger: slog.New(slog.DiscardHandler),
		delay:  defaultFlushDelay,
	}
}

func (f *flusher) enqueue(updates ...bastion.Update) {
	if len(updates) == 0 {
		return
	}
	f.pendingMu.Lock()
	f.pending = append(f.pending, updates...)
	if f.timer == nil {
		f.timer = time.AfterFunc(f.delay, f.fire)
	} else {
		f.timer.Reset(f.delay)
	}
	f.pendingMu.Unlock()
}

// fire runs on the debounce timer. Errors here have no user to report to,
// so they only log; handlers that must confirm the write call flush.
func (f *flusher) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.flush(ctx); err != nil {
		f.logger.Error("scan: debounced flush failed", "error", err)
	}
}

// flush sends everything pending now. The queue empties even on failure:
// replaying a half-applied batch against a live sheet does more harm than
// the lost cells, which the next full scan reconciles.
func (f *flusher) flush(ctx context.Context) error {
	f.pendingMu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	batch := f.pending
	f.pending = nil
	f.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.client.BatchUpdate(ctx, batch); err != nil {
		f.logger.Warn("scan: batch update failed", "updates", len(batch), "error", err)
		return err
	}
	f.logger.Debug("scan: batch update sent", "updates", len(batch))
	return nil
}
