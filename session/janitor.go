package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor runs Store.Cleanup on a fixed interval until stopped. Start it
// once after building the engine and Stop it during shutdown.
type Janitor struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(removed int)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// OnSweep registers a callback invoked with the removal count after each
// successful sweep. Must be called before Start.
func (j *Janitor) OnSweep(fn func(removed int)) {
	j.onSweep = fn
}

// NewJanitor wires a sweeper to the given store. A nil logger disables
// sweep logging.
func NewJanitor(store Store, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. Calling Start on a running janitor is a
// no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.run(ctx, j.done)
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.done = nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (j *Janitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.store.Cleanup(ctx)
			if err != nil {
				if ctx.Err() == nil {
					j.logger.Error("session cleanup failed", "error", err)
				}
				continue
			}
			if j.onSweep != nil {
				j.onSweep(removed)
			}
			if removed > 0 {
				j.logger.Info("session cleanup", "removed", removed)
			}
		}
	}
}
