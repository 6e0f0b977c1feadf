package engine

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/portfoliofeed/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// event is one recorded observer call.
type event struct {
	snapshot bool
	holdings map[string]int64
	update   domain.Update
}

// recorder is an Observer that records every call in order.
type recorder struct {
	mu     sync.Mutex
	events []event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) OnSnapshot(s Snapshot) {
	r.record(event{snapshot: true, holdings: s.Map()})
}

func (r *recorder) OnUpdate(u domain.Update) {
	r.record(event{update: u})
}

func (r *recorder) record(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshotEvents() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

// waitFor blocks until at least n events have been recorded.
func (r *recorder) waitFor(t *testing.T, n int) []event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		events := r.snapshotEvents()
		if len(events) >= n {
			return events
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(events))
		}
	}
}

// drain waits until p's dispatcher has delivered everything queued so far.
func drain(t *testing.T, p *Portfolio) {
	t.Helper()
	done := make(chan struct{})
	if err := p.RequestSnapshot(ObserverFuncs{Snapshot: func(Snapshot) { close(done) }}); err != nil {
		t.Fatalf("RequestSnapshot: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out draining dispatcher")
	}
}

func mapsEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
