package engine

import (
	"context"
	"testing"

	"github.com/efreitasn/portfoliofeed/internal/domain"
	"pgregory.net/rapid"
)

// Property: an observer that applies the attach snapshot and then every
// update in delivery order ends with exactly the portfolio's final state,
// and every update's OldQty matches what the observer held at that point.

func TestProperty_ObserverReplayMatchesState(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := NewPortfolio("portfolio1", discardLogger())

		before := rapid.IntRange(0, 20).Draw(rt, "before")
		after := rapid.IntRange(0, 50).Draw(rt, "after")
		applyRandom(rt, p, before)

		rec := newRecorder()
		if err := p.Attach(rec); err != nil {
			rt.Fatalf("Attach: %v", err)
		}
		applyRandom(rt, p, after)
		drain(t, p)

		events := rec.snapshotEvents()
		if len(events) == 0 || !events[0].snapshot {
			rt.Fatalf("first event must be the snapshot, got %+v", events)
		}
		view := events[0].holdings
		for _, e := range events[1:] {
			if e.snapshot {
				rt.Fatalf("unexpected second snapshot")
			}
			if view[e.update.Item] != e.update.OldQty {
				rt.Fatalf("update %+v, observer held %d", e.update, view[e.update.Item])
			}
			if e.update.Qty == 0 {
				delete(view, e.update.Item)
			} else {
				view[e.update.Item] = e.update.Qty
			}
		}

		if final := p.Snapshot().Map(); !mapsEqual(view, final) {
			rt.Fatalf("observer view %v, portfolio %v", view, final)
		}
		if err := p.Close(context.Background()); err != nil {
			rt.Fatalf("Close: %v", err)
		}
	})
}

func applyRandom(t *rapid.T, p *Portfolio, n int) {
	for i := 0; i < n; i++ {
		item := domain.ItemName(rapid.IntRange(1, 4).Draw(t, "item"))
		qty := rapid.Int64Range(-10, 500).Draw(t, "qty")
		if rapid.Bool().Draw(t, "buy") {
			_ = p.Buy(item, qty)
		} else {
			_ = p.Sell(item, qty)
		}
	}
}
