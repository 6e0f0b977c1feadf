package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/efreitasn/portfoliofeed/internal/domain"
	"github.com/efreitasn/portfoliofeed/internal/engine"
	"github.com/efreitasn/portfoliofeed/internal/store"
)

func newTestPublisher(t *testing.T, c *capture) (*PublisherService, *engine.Registry) {
	t.Helper()
	reg := newTestRegistry()
	svc := NewPublisherService(store.NewSubscriptionStore(), reg, 5*time.Second, discardLogger())
	if c != nil {
		svc.client = c.srv.Client()
	}
	t.Cleanup(func() {
		_ = reg.Close(context.Background())
		_ = svc.Close(context.Background())
	})
	return svc, reg
}

func TestSubscribe_ValidationErrors(t *testing.T) {
	svc, _ := newTestPublisher(t, nil)

	tests := []struct {
		name string
		req  SubscribeRequest
	}{
		{"empty url", SubscribeRequest{PortfolioID: "portfolio1", URL: ""}},
		{"relative url", SubscribeRequest{PortfolioID: "portfolio1", URL: "/hooks"}},
		{"http scheme", SubscribeRequest{PortfolioID: "portfolio1", URL: "http://example.com/hooks"}},
		{"too long", SubscribeRequest{PortfolioID: "portfolio1", URL: "https://example.com/" + string(make([]byte, 2048))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Subscribe(tt.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestSubscribe_InvalidPortfolio(t *testing.T) {
	svc, reg := newTestPublisher(t, nil)

	_, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio11", URL: "https://example.com/hooks"})
	if !errors.Is(err, domain.ErrInvalidPortfolioID) {
		t.Errorf("err = %v, want ErrInvalidPortfolioID", err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry created %d portfolios", reg.Len())
	}
}

func TestSubscribe_SnapshotThenUpdates(t *testing.T) {
	c := newCapture(t)
	svc, reg := newTestPublisher(t, c)

	sub, created, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio3", URL: c.url("/a")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}

	p, _ := reg.Resolve("portfolio3")
	if !p.Attached() {
		t.Fatal("subscribing should attach the publisher")
	}
	want := p.Snapshot()

	if err := p.Buy("item1", 100); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	got := c.waitFor(t, 2)
	if got[0].EventType != EventSnapshot {
		t.Fatalf("first delivery = %q, want snapshot", got[0].EventType)
	}
	if got[0].SubscriptionID != sub.SubscriptionID || got[0].DeliveryID == "" {
		t.Errorf("headers: subscription %q delivery %q", got[0].SubscriptionID, got[0].DeliveryID)
	}
	holdings, _ := data(got[0])["holdings"].([]any)
	if len(holdings) != want.Len() {
		t.Errorf("snapshot carries %d holdings, want %d", len(holdings), want.Len())
	}

	if got[1].EventType != EventUpdate {
		t.Fatalf("second delivery = %q, want update", got[1].EventType)
	}
	upd := data(got[1])
	if upd["stock"] != "item1" || upd["portfolio_id"] != "portfolio3" {
		t.Errorf("update data = %v", upd)
	}
	oldQty := want.Quantity("item1")
	if upd["old_qty"] != float64(oldQty) || upd["qty"] != float64(oldQty+100) {
		t.Errorf("update qty = %v old = %v, want %d, %d", upd["qty"], upd["old_qty"], oldQty+100, oldQty)
	}
	wantCmd := "UPDATE"
	if oldQty == 0 {
		wantCmd = "ADD"
	}
	if upd["command"] != wantCmd {
		t.Errorf("command = %v, want %s", upd["command"], wantCmd)
	}
}

func TestSubscribe_Idempotent(t *testing.T) {
	c := newCapture(t)
	svc, _ := newTestPublisher(t, c)

	first, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio1", URL: c.url("/a")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, created, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio1", URL: c.url("/a")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false for the same portfolio and url")
	}
	if second.SubscriptionID != first.SubscriptionID {
		t.Errorf("SubscriptionID = %q, want %q", second.SubscriptionID, first.SubscriptionID)
	}
}

func TestSubscribe_LateSubscriberGetsOwnSnapshot(t *testing.T) {
	c := newCapture(t)
	svc, reg := newTestPublisher(t, c)
	if err := svc.Serve(2); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	p, _ := reg.Resolve("portfolio2")
	settle(t, svc, p)

	early, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio2", URL: c.url("/early")})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.waitFor(t, 1)

	late, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio2", URL: c.url("/late")})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	settle(t, svc, p)

	got := c.deliveries()
	if len(got) != 2 {
		t.Fatalf("got %d deliveries, want 2 snapshots", len(got))
	}
	if got[0].SubscriptionID != early.SubscriptionID || got[1].SubscriptionID != late.SubscriptionID {
		t.Errorf("snapshots went to %q, %q", got[0].SubscriptionID, got[1].SubscriptionID)
	}
	for _, d := range got {
		if d.EventType != EventSnapshot {
			t.Errorf("delivery %q is %q, want snapshot", d.Path, d.EventType)
		}
	}

	// Both are active now and receive the next update.
	if err := p.Buy("item2", 100); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	got = c.waitFor(t, 4)
	for _, d := range got[2:] {
		if d.EventType != EventUpdate {
			t.Errorf("delivery %q is %q, want update", d.Path, d.EventType)
		}
	}
}

func TestServe_AttachesPortfolios(t *testing.T) {
	svc, reg := newTestPublisher(t, nil)
	if err := svc.Serve(3); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if reg.Len() != 3 {
		t.Errorf("registry has %d portfolios, want 3", reg.Len())
	}
	for _, id := range []string{"portfolio1", "portfolio2", "portfolio3"} {
		p, _ := reg.Resolve(id)
		if !p.Attached() {
			t.Errorf("%s should be attached", id)
		}
	}
}

func TestServe_InvalidCount(t *testing.T) {
	svc, _ := newTestPublisher(t, nil)
	for _, n := range []int{0, -1, 11} {
		var ve *domain.ValidationError
		if err := svc.Serve(n); !errors.As(err, &ve) {
			t.Errorf("Serve(%d) err = %v, want ValidationError", n, err)
		}
	}
}

func TestUnsubscribe_DetachesUnservedPortfolio(t *testing.T) {
	c := newCapture(t)
	svc, reg := newTestPublisher(t, c)
	if err := svc.Serve(1); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	served, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio1", URL: c.url("/a")})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	adhoc, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio5", URL: c.url("/b")})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := svc.Unsubscribe(served.SubscriptionID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := svc.Unsubscribe(adhoc.SubscriptionID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	p1, _ := reg.Resolve("portfolio1")
	p5, _ := reg.Resolve("portfolio5")
	if !p1.Attached() {
		t.Error("served portfolio should stay attached")
	}
	if p5.Attached() {
		t.Error("unserved portfolio should be detached after its last subscription")
	}

	if err := svc.Unsubscribe(adhoc.SubscriptionID); !errors.Is(err, domain.ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe err = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestList_Subscriptions(t *testing.T) {
	svc, _ := newTestPublisher(t, nil)
	if _, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio1", URL: "https://127.0.0.1:1/a"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	subs, err := svc.List("portfolio1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subs) != 1 || subs[0].URL != "https://127.0.0.1:1/a" {
		t.Errorf("List = %+v", subs)
	}

	if _, err := svc.List("bogus"); !errors.Is(err, domain.ErrInvalidPortfolioID) {
		t.Errorf("List(bogus) err = %v, want ErrInvalidPortfolioID", err)
	}
}

func TestPublisher_UpdatesInOrder(t *testing.T) {
	c := newCapture(t)
	svc, reg := newTestPublisher(t, c)
	if _, _, err := svc.Subscribe(SubscribeRequest{PortfolioID: "portfolio4", URL: c.url("/a")}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	p, _ := reg.Resolve("portfolio4")

	const n = 20
	base := p.Snapshot().Quantity("item30")
	for i := 0; i < n; i++ {
		if err := p.Buy("item30", 1); err != nil {
			t.Fatalf("Buy: %v", err)
		}
	}

	got := c.waitFor(t, 1+n)
	for i, d := range got[1:] {
		if q := data(d)["qty"]; q != float64(base+int64(i)+1) {
			t.Fatalf("update %d qty = %v, want %d", i, q, base+int64(i)+1)
		}
	}
}

func TestStatus_NotDelayedBySlowWebhook(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	reg := newTestRegistry()
	pub := NewPublisherService(store.NewSubscriptionStore(), reg, 5*time.Second, discardLogger())
	pub.client = srv.Client()
	statusSvc := NewPortfolioService(reg, 500*time.Millisecond, discardLogger())

	if _, _, err := pub.Subscribe(SubscribeRequest{PortfolioID: "portfolio2", URL: srv.URL + "/slow"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := statusSvc.Execute(ExecuteRequest{Request: RequestBuy, PortfolioID: "portfolio2", Stock: "item1", Quantity: 100}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	// Wait until the webhook is actually hanging on the snapshot.
	deadline := time.Now().Add(3 * time.Second)
	for hits.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("webhook never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	status, err := statusSvc.Status(context.Background(), "portfolio2")
	if err != nil {
		t.Fatalf("Status while webhook hangs: %v", err)
	}
	p, _ := reg.Resolve("portfolio2")
	if got, want := len(status.Holdings), p.Snapshot().Len(); got != want {
		t.Errorf("status has %d holdings, want %d", got, want)
	}
}
