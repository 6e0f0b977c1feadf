package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/efreitasn/portfoliofeed/internal/domain"
)

// delivery is one queued call: the observer is bound when the event is
// produced, not when it is delivered.
type delivery struct {
	observer Observer
	snapshot *Snapshot
	update   domain.Update
}

// Dispatcher is a single-consumer FIFO queue with its own goroutine. Enqueue
// never blocks on the consumer, so a slow observer cannot stall the
// goroutine producing events.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.Mutex // protects queue and closed
	queue  []delivery
	closed bool

	wake chan struct{} // capacity 1; a pending signal is never lost
	done chan struct{}
}

// NewDispatcher creates a Dispatcher and starts its worker goroutine.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// EnqueueSnapshot queues a snapshot for o. It returns false once the
// dispatcher has been closed.
func (d *Dispatcher) EnqueueSnapshot(o Observer, s Snapshot) bool {
	return d.enqueue(delivery{observer: o, snapshot: &s})
}

// EnqueueUpdate queues an update for o. It returns false once the
// dispatcher has been closed.
func (d *Dispatcher) EnqueueUpdate(o Observer, u domain.Update) bool {
	return d.enqueue(delivery{observer: o, update: u})
}

func (d *Dispatcher) enqueue(dl delivery) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, dl)
	d.mu.Unlock()

	d.signal()
	return true
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, not yet delivered events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting events and waits until the worker has delivered
// everything already queued, or until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.wake
			continue
		}

		for _, dl := range batch {
			d.deliver(dl)
		}
	}
}

// deliver invokes the observer. A panicking observer is logged and the
// worker moves on to the next event.
func (d *Dispatcher) deliver(dl delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer panicked", slog.Any("panic", r))
		}
	}()

	if dl.snapshot != nil {
		dl.observer.OnSnapshot(*dl.snapshot)
		return
	}
	dl.observer.OnUpdate(dl.update)
}

// Relay returns an Observer that queues every event it receives on d for o.
// Attached to a portfolio, it moves o's work off the portfolio's own
// dispatch goroutine; the order of events is unchanged.
func (d *Dispatcher) Relay(o Observer) Observer {
	return relay{d: d, target: o}
}

type relay struct {
	d      *Dispatcher
	target Observer
}

func (r relay) OnSnapshot(s Snapshot) {
	if !r.d.EnqueueSnapshot(r.target, s) {
		r.d.logger.Warn("relay closed, snapshot dropped")
	}
}

func (r relay) OnUpdate(u domain.Update) {
	if !r.d.EnqueueUpdate(r.target, u) {
		r.d.logger.Warn("relay closed, update dropped", slog.String("item", u.Item))
	}
}
