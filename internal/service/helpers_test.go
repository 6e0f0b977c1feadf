package service

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/portfoliofeed/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() *engine.Registry {
	return engine.NewRegistry(
		engine.WithLogger(discardLogger()),
		engine.WithRand(rand.New(rand.NewPCG(42, 42))),
	)
}

// delivery is one webhook request received by a capture server.
type delivery struct {
	EventType      string
	SubscriptionID string
	DeliveryID     string
	Path           string
	Body           map[string]any
}

// capture is an HTTPS test server recording webhook deliveries in order.
type capture struct {
	srv    *httptest.Server
	mu     sync.Mutex
	got    []delivery
	notify chan struct{}
}

func newCapture(t *testing.T) *capture {
	t.Helper()
	c := &capture{notify: make(chan struct{}, 1)}
	c.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		c.mu.Lock()
		c.got = append(c.got, delivery{
			EventType:      r.Header.Get("X-Event-Type"),
			SubscriptionID: r.Header.Get("X-Subscription-Id"),
			DeliveryID:     r.Header.Get("X-Delivery-Id"),
			Path:           r.URL.Path,
			Body:           body,
		})
		c.mu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *capture) url(path string) string {
	return c.srv.URL + path
}

func (c *capture) deliveries() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.got...)
}

// waitFor blocks until at least n deliveries have been received.
func (c *capture) waitFor(t *testing.T, n int) []delivery {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		got := c.deliveries()
		if len(got) >= n {
			return got
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries, got %d", n, len(got))
		}
	}
}

// settle waits until portfolio p and its publisher relay have delivered
// everything queued so far.
func settle(t *testing.T, svc *PublisherService, p *engine.Portfolio) {
	t.Helper()
	wait := func(where string, enqueue func(engine.Observer)) {
		done := make(chan struct{})
		enqueue(engine.ObserverFuncs{Snapshot: func(engine.Snapshot) { close(done) }})
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", where)
		}
	}

	wait("portfolio queue", func(o engine.Observer) {
		if err := p.RequestSnapshot(o); err != nil {
			t.Fatalf("RequestSnapshot: %v", err)
		}
	})

	svc.mu.Lock()
	relay := svc.relays[p.ID()]
	svc.mu.Unlock()
	if relay == nil {
		return
	}
	wait("publisher relay", func(o engine.Observer) {
		relay.EnqueueSnapshot(o, engine.Snapshot{})
	})
}

func data(d delivery) map[string]any {
	m, _ := d.Body["data"].(map[string]any)
	return m
}
