package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/efreitasn/portfoliofeed/internal/domain"
)

// Seeding parameters for new portfolios.
const (
	minSeedHoldings = 6
	maxSeedHoldings = 8
	seedLotSize     = 100
	maxSeedLots     = 25
)

// Registry lazily creates one Portfolio per identifier and keeps it for
// the lifetime of the process. Lookups of existing portfolios take no lock.
type Registry struct {
	logger     *slog.Logger
	portfolios sync.Map // portfolio id → *Portfolio

	mu    sync.Mutex // serializes creation
	intN  func(n int) int
	count int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger handed to every portfolio.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRand makes seeding draw from rng. rng is only used while the
// creation lock is held.
func WithRand(rng *rand.Rand) RegistryOption {
	return func(r *Registry) {
		r.intN = rng.IntN
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: slog.Default(),
		intN:   rand.IntN,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the portfolio for id, creating and seeding it on first
// use. It returns domain.ErrInvalidPortfolioID for identifiers outside
// portfolio1..portfolio10.
func (r *Registry) Resolve(id string) (*Portfolio, error) {
	if !domain.ValidPortfolioID(id) {
		r.logger.Warn("wrong portfolio id", slog.String("portfolio_id", id))
		return nil, fmt.Errorf("%q: %w", id, domain.ErrInvalidPortfolioID)
	}

	if p, ok := r.portfolios.Load(id); ok {
		return p.(*Portfolio), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring the creation lock.
	if p, ok := r.portfolios.Load(id); ok {
		return p.(*Portfolio), nil
	}

	p := NewPortfolio(id, r.logger)
	r.seed(p)
	r.portfolios.Store(id, p)
	r.count++
	r.logger.Info("portfolio created", slog.String("portfolio_id", id), slog.Int("holdings", p.Snapshot().Len()))
	return p, nil
}

// seed buys a random starting position through the regular Buy path:
// 6 to 8 distinct items, each a multiple of 100 between 100 and 2500.
func (r *Registry) seed(p *Portfolio) {
	items := make([]int, domain.ItemCount)
	for i := range items {
		items[i] = i + 1
	}

	n := minSeedHoldings + r.intN(maxSeedHoldings-minSeedHoldings+1)
	for i := 0; i < n; i++ {
		// Partial Fisher-Yates: items[:i] are already drawn.
		j := i + r.intN(len(items)-i)
		items[i], items[j] = items[j], items[i]

		qty := int64(r.intN(maxSeedLots)+1) * seedLotSize
		if err := p.Buy(domain.ItemName(items[i]), qty); err != nil {
			r.logger.Error("seeding failed", slog.String("portfolio_id", p.ID()), slog.String("error", err.Error()))
		}
	}
}

// Len returns the number of portfolios created so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Range calls fn for each created portfolio until fn returns false.
func (r *Registry) Range(fn func(*Portfolio) bool) {
	r.portfolios.Range(func(_, v any) bool {
		return fn(v.(*Portfolio))
	})
}

// Close closes every portfolio's dispatcher, delivering what is already
// queued. Portfolios stay resolvable but their events are dropped.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	r.Range(func(p *Portfolio) bool {
		if err := p.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
		}
		return true
	})
	return errors.Join(errs...)
}
