package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/efreitasn/portfoliofeed/internal/domain"
)

// Portfolio owns the ledger of one portfolio and the single observer slot
// subscribed to it. Buy, Sell, Attach, Detach and RequestSnapshot are
// mutually exclusive per portfolio; none of them waits on an observer.
type Portfolio struct {
	id         string
	logger     *slog.Logger
	dispatcher *Dispatcher

	mu       sync.Mutex // protects ledger and observer
	ledger   *Ledger
	observer Observer
}

// NewPortfolio creates an empty portfolio with its own dispatch goroutine.
func NewPortfolio(id string, logger *slog.Logger) *Portfolio {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("portfolio_id", id))
	return &Portfolio{
		id:         id,
		logger:     logger,
		dispatcher: NewDispatcher(logger),
		ledger:     NewLedger(),
	}
}

// ID returns the portfolio identifier.
func (p *Portfolio) ID() string {
	return p.id
}

// Buy adds qty of item. It fails with domain.ErrInvalidQuantity,
// domain.ErrInvalidItem or domain.ErrQuantityOverflow, leaving the
// portfolio unchanged.
func (p *Portfolio) Buy(item string, qty int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.ledger.Buy(item, qty)
	if err != nil {
		p.logger.Warn("buy rejected",
			slog.String("item", item),
			slog.Int64("quantity", qty),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s: %w", p.id, err)
	}

	p.logger.Debug("bought", slog.String("item", item), slog.Int64("quantity", qty), slog.Int64("new_quantity", u.Qty))
	p.notify(u)
	return nil
}

// Sell removes qty of item; selling more than is held clears the
// position. Selling an item that is not held fails softly with
// domain.ErrNothingToSell and produces no event.
func (p *Portfolio) Sell(item string, qty int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.ledger.Sell(item, qty)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrNothingToSell) {
			level = slog.LevelInfo
		}
		p.logger.Log(context.Background(), level, "sell rejected",
			slog.String("item", item),
			slog.Int64("quantity", qty),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s: %w", p.id, err)
	}

	if qty > u.OldQty {
		p.logger.Warn("not enough stock to sell, position cleared",
			slog.String("item", item),
			slog.Int64("quantity", qty),
			slog.Int64("held", u.OldQty),
		)
	}
	p.logger.Debug("sold", slog.String("item", item), slog.Int64("quantity", qty), slog.Int64("new_quantity", u.Qty))
	p.notify(u)
	return nil
}

// notify queues u for the attached observer, if any. Callers hold p.mu, so
// the queue order matches the order of the mutations.
func (p *Portfolio) notify(u domain.Update) {
	if p.observer == nil {
		return
	}
	if !p.dispatcher.EnqueueUpdate(p.observer, u) {
		p.logger.Warn("dispatcher closed, update dropped", slog.String("item", u.Item))
	}
}

// Attach replaces the observer and queues a snapshot of the current
// holdings for it ahead of any later update. A nil observer is rejected
// with domain.ErrInvalidArgument; use Detach to clear the slot.
func (p *Portfolio) Attach(o Observer) error {
	if o == nil {
		return fmt.Errorf("%s: attach nil observer: %w", p.id, domain.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.observer = o
	p.logger.Debug("observer attached")
	p.flush(o)
	return nil
}

// Detach clears the observer. Events already queued are still delivered.
func (p *Portfolio) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.observer = nil
	p.logger.Debug("observer detached")
}

// RequestSnapshot queues a snapshot of the current holdings for o only.
// The attached observer is left as it is.
func (p *Portfolio) RequestSnapshot(o Observer) error {
	if o == nil {
		return fmt.Errorf("%s: snapshot for nil observer: %w", p.id, domain.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.flush(o)
	return nil
}

func (p *Portfolio) flush(o Observer) {
	if !p.dispatcher.EnqueueSnapshot(o, p.ledger.Snapshot()) {
		p.logger.Warn("dispatcher closed, snapshot dropped")
	}
}

// Attached reports whether an observer is currently attached.
func (p *Portfolio) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observer != nil
}

// Snapshot returns the current holdings synchronously.
func (p *Portfolio) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.Snapshot()
}

// Close stops the dispatch goroutine after the queued events are delivered.
func (p *Portfolio) Close(ctx context.Context) error {
	return p.dispatcher.Close(ctx)
}
