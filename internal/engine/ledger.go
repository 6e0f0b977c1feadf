package engine

import (
	"fmt"

	"github.com/efreitasn/portfoliofeed/internal/domain"
	"github.com/google/btree"
)

// holdingLess orders holdings by item identifier. Quantity is not part of
// the key, so Get and Delete only need the Item field set.
func holdingLess(a, b domain.Holding) bool {
	return a.Item < b.Item
}

// Ledger holds the current positions of one portfolio. It is not safe for
// concurrent use; Portfolio serializes access to it.
type Ledger struct {
	holdings *btree.BTreeG[domain.Holding]
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	const degree = 8
	return &Ledger{
		holdings: btree.NewG[domain.Holding](degree, holdingLess),
	}
}

// Buy adds qty to the position in item.
func (l *Ledger) Buy(item string, qty int64) (domain.Update, error) {
	if qty <= 0 {
		return domain.Update{}, fmt.Errorf("buy %d %s: %w", qty, item, domain.ErrInvalidQuantity)
	}
	return l.change(item, qty)
}

// Sell removes qty from the position in item. Selling more than is held
// clears the position.
func (l *Ledger) Sell(item string, qty int64) (domain.Update, error) {
	if qty <= 0 {
		return domain.Update{}, fmt.Errorf("sell %d %s: %w", qty, item, domain.ErrInvalidQuantity)
	}
	return l.change(item, -qty)
}

// change applies a signed delta. Positive deltas that would overflow are
// rejected, negative deltas clamp at zero, and zeroed positions are removed.
func (l *Ledger) change(item string, delta int64) (domain.Update, error) {
	if !domain.ValidItem(item) {
		return domain.Update{}, fmt.Errorf("%q: %w", item, domain.ErrInvalidItem)
	}

	current, held := l.holdings.Get(domain.Holding{Item: item})
	oldQty := current.Quantity

	var newQty int64
	if delta > 0 {
		if oldQty > domain.MaxQuantity-delta {
			return domain.Update{}, fmt.Errorf("%s: %d held, %d bought: %w", item, oldQty, delta, domain.ErrQuantityOverflow)
		}
		newQty = oldQty + delta
	} else {
		if !held {
			return domain.Update{}, fmt.Errorf("%s: %w", item, domain.ErrNothingToSell)
		}
		newQty = oldQty + delta
		if newQty < 0 {
			newQty = 0
		}
	}

	if newQty == 0 {
		l.holdings.Delete(domain.Holding{Item: item})
	} else {
		l.holdings.ReplaceOrInsert(domain.Holding{Item: item, Quantity: newQty})
	}

	return domain.Update{Item: item, Qty: newQty, OldQty: oldQty}, nil
}

// Quantity returns the current quantity of item, or 0 if it is not held.
func (l *Ledger) Quantity(item string) int64 {
	h, _ := l.holdings.Get(domain.Holding{Item: item})
	return h.Quantity
}

// Len returns the number of positions held.
func (l *Ledger) Len() int {
	return l.holdings.Len()
}

// Snapshot returns a point-in-time copy of the ledger. The copy shares
// nodes with the ledger until either side is written, so taking it is
// O(1) and later mutations are never visible through it.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{holdings: l.holdings.Clone()}
}

// Snapshot is an immutable view of a portfolio's holdings. The zero value
// is an empty snapshot. A Snapshot may be read from several goroutines.
type Snapshot struct {
	holdings *btree.BTreeG[domain.Holding]
}

// Len returns the number of positions in the snapshot.
func (s Snapshot) Len() int {
	if s.holdings == nil {
		return 0
	}
	return s.holdings.Len()
}

// Quantity returns the quantity of item in the snapshot, or 0.
func (s Snapshot) Quantity(item string) int64 {
	if s.holdings == nil {
		return 0
	}
	h, _ := s.holdings.Get(domain.Holding{Item: item})
	return h.Quantity
}

// Holdings returns the positions ordered by item identifier.
func (s Snapshot) Holdings() []domain.Holding {
	out := make([]domain.Holding, 0, s.Len())
	s.Ascend(func(h domain.Holding) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Map returns the positions as item → quantity.
func (s Snapshot) Map() map[string]int64 {
	out := make(map[string]int64, s.Len())
	s.Ascend(func(h domain.Holding) bool {
		out[h.Item] = h.Quantity
		return true
	})
	return out
}

// Ascend calls fn for each position in item order until fn returns false.
func (s Snapshot) Ascend(fn func(domain.Holding) bool) {
	if s.holdings == nil {
		return
	}
	s.holdings.Ascend(fn)
}
