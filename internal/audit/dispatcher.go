package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering. With DropIfFull the dispatcher
// sheds events under pressure instead of stalling login requests.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher stamps security events and fans them out to one or more
// sinks from a single background goroutine. A nil *Dispatcher is valid
// and silently discards everything, so callers never branch on whether
// auditing is configured.
//
// Shutdown closes the queue: the pump drains whatever was accepted
// before Close and then exits, so no stamped event is lost on a clean
// stop. Emits that race with Close are counted as dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	block   bool
	dropped atomic.Uint64

	mu      sync.RWMutex
	closing bool
	drained chan struct{}
}

// NewDispatcher starts the pump goroutine. Returns nil when auditing is
// disabled. Sinks that are nil are skipped.
func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, NoOpSink{})
	}

	d := &Dispatcher{
		sinks:   kept,
		queue:   make(chan Event, cfg.BufferSize),
		block:   !cfg.DropIfFull,
		drained: make(chan struct{}),
	}
	go d.pump()
	return d
}

// pump runs until Close closes the queue, delivering in arrival order.
func (d *Dispatcher) pump() {
	defer close(d.drained)
	for event := range d.queue {
		for _, sink := range d.sinks {
			sink.Emit(context.Background(), event)
		}
	}
}

// Emit stamps the event with an ID and timestamp and queues it. In drop
// mode a full queue sheds the event; otherwise Emit waits until the pump
// catches up or the caller's context ends.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	event.Stamp(time.Now().UTC())

	// The read lock pins the queue open: Close takes the write lock
	// before closing it, so a send here never hits a closed channel.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closing {
		d.dropped.Add(1)
		return
	}

	if !d.block {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	}
}

// Close stops intake, waits for the pump to drain the queue, and
// returns. Safe to call more than once; later calls just wait.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closing {
		d.closing = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.drained
}

// Dropped reports how many events were shed, whether by queue pressure
// or by arriving during shutdown.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
