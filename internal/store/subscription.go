package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/portfoliofeed/internal/domain"
)

// SubscriptionStore is a thread-safe in-memory store for subscriptions.
// Primary index: subscription_id → subscription.
// Secondary index: portfolio_id → url → subscription.
type SubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*domain.Subscription
	byPortfolio   map[string]map[string]*domain.Subscription
}

// NewSubscriptionStore creates an empty SubscriptionStore.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subscriptions: make(map[string]*domain.Subscription),
		byPortfolio:   make(map[string]map[string]*domain.Subscription),
	}
}

// Add inserts a subscription keyed by (portfolio_id, url). If one already
// exists for that pair, it is returned unchanged and created is false.
func (s *SubscriptionStore) Add(sub *domain.Subscription) (stored *domain.Subscription, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if urls, ok := s.byPortfolio[sub.PortfolioID]; ok {
		if existing, ok := urls[sub.URL]; ok {
			return copySubscription(existing), false
		}
	}

	stored = copySubscription(sub)
	s.subscriptions[stored.SubscriptionID] = stored
	if s.byPortfolio[stored.PortfolioID] == nil {
		s.byPortfolio[stored.PortfolioID] = make(map[string]*domain.Subscription)
	}
	s.byPortfolio[stored.PortfolioID][stored.URL] = stored

	return copySubscription(stored), true
}

// Get retrieves a subscription by ID. It returns
// domain.ErrSubscriptionNotFound if the subscription does not exist.
func (s *SubscriptionStore) Get(id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// ListByPortfolio returns the subscriptions of a portfolio ordered by
// creation time, then ID. Returns an empty slice if there are none.
func (s *SubscriptionStore) ListByPortfolio(portfolioID string) []*domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := s.byPortfolio[portfolioID]
	result := make([]*domain.Subscription, 0, len(urls))
	for _, sub := range urls {
		result = append(result, copySubscription(sub))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].SubscriptionID < result[j].SubscriptionID
	})
	return result
}

// Activate marks the given subscriptions as having received a snapshot.
// Unknown IDs are ignored.
func (s *SubscriptionStore) Activate(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if sub, ok := s.subscriptions[id]; ok {
			sub.Active = true
		}
	}
}

// Delete removes a subscription by ID and returns it. It returns
// domain.ErrSubscriptionNotFound if the subscription does not exist.
// Both the primary and secondary indexes are cleaned up.
func (s *SubscriptionStore) Delete(id string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}

	delete(s.subscriptions, id)

	if urls, ok := s.byPortfolio[sub.PortfolioID]; ok {
		delete(urls, sub.URL)
		if len(urls) == 0 {
			delete(s.byPortfolio, sub.PortfolioID)
		}
	}

	return sub, nil
}

// copySubscription returns a copy so callers never share the stored value
// with the lock-protected Active flag.
func copySubscription(sub *domain.Subscription) *domain.Subscription {
	c := *sub
	return &c
}
