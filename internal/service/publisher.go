package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/efreitasn/portfoliofeed/internal/domain"
	"github.com/efreitasn/portfoliofeed/internal/engine"
	"github.com/efreitasn/portfoliofeed/internal/store"
	"github.com/google/uuid"
)

// Event types carried in the X-Event-Type header and the payload.
const (
	EventSnapshot = "portfolio.snapshot"
	EventUpdate   = "portfolio.update"
)

// SubscribeRequest represents the input for subscription registration.
type SubscribeRequest struct {
	PortfolioID string
	URL         string
}

// PublisherService publishes portfolio events to webhook subscribers. Each
// published portfolio gets a relay dispatcher of its own: the portfolio's
// dispatch goroutine only hands events over to it, and the relay fans them
// out to the subscriptions in order. A slow webhook therefore delays later
// webhooks of that portfolio but never the portfolio's own queue.
type PublisherService struct {
	store    *store.SubscriptionStore
	registry *engine.Registry
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex // orders subscription changes with attach/detach
	attached map[string]bool
	pinned   map[string]bool
	relays   map[string]*engine.Dispatcher
}

// NewPublisherService creates a new PublisherService with the given dependencies.
func NewPublisherService(
	subscriptionStore *store.SubscriptionStore,
	registry *engine.Registry,
	webhookTimeout time.Duration,
	logger *slog.Logger,
) *PublisherService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublisherService{
		store:    subscriptionStore,
		registry: registry,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger:   logger,
		attached: make(map[string]bool),
		pinned:   make(map[string]bool),
		relays:   make(map[string]*engine.Dispatcher),
	}
}

// Serve attaches the publisher to portfolio1..portfolioN and keeps them
// attached regardless of subscriptions.
func (s *PublisherService) Serve(n int) error {
	if n < 1 || n > domain.PortfolioCount {
		return &domain.ValidationError{
			Message: fmt.Sprintf("number of published portfolios must be between 1 and %d", domain.PortfolioCount),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i <= n; i++ {
		p, err := s.registry.Resolve(domain.PortfolioID(i))
		if err != nil {
			return err
		}
		if err := s.attachLocked(p); err != nil {
			return err
		}
		s.pinned[p.ID()] = true
	}
	s.logger.Info("publishing portfolios", slog.Int("count", n))
	return nil
}

// Subscribe validates the request and registers a webhook for the
// portfolio's events. The new subscription is sent a snapshot before any
// update. Returns the subscription and whether it was newly created.
func (s *PublisherService) Subscribe(req SubscribeRequest) (*domain.Subscription, bool, error) {
	if err := validateWebhookURL(req.URL); err != nil {
		return nil, false, err
	}

	p, err := s.registry.Resolve(req.PortfolioID)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, created := s.store.Add(&domain.Subscription{
		SubscriptionID: uuid.New().String(),
		PortfolioID:    p.ID(),
		URL:            req.URL,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	})
	if !created {
		return sub, false, nil
	}

	if !s.attached[p.ID()] {
		// The attach snapshot activates every subscription of p.
		if err := s.attachLocked(p); err != nil {
			return nil, false, err
		}
	} else if err := p.RequestSnapshot(s.relayLocked(p.ID()).Relay(&subscriptionObserver{
		svc:            s,
		subscriptionID: sub.SubscriptionID,
	})); err != nil {
		return nil, false, err
	}

	s.logger.Info("subscription created",
		slog.String("subscription_id", sub.SubscriptionID),
		slog.String("portfolio_id", sub.PortfolioID),
	)
	return sub, true, nil
}

// List validates the portfolio ID and returns its subscriptions.
func (s *PublisherService) List(portfolioID string) ([]*domain.Subscription, error) {
	if !domain.ValidPortfolioID(portfolioID) {
		return nil, fmt.Errorf("%q: %w", portfolioID, domain.ErrInvalidPortfolioID)
	}
	return s.store.ListByPortfolio(portfolioID), nil
}

// Unsubscribe removes a subscription. When the last subscription of a
// portfolio that is not served is removed, the publisher detaches from it.
func (s *PublisherService) Unsubscribe(subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.store.Delete(subscriptionID)
	if err != nil {
		return err
	}

	id := sub.PortfolioID
	if s.pinned[id] || !s.attached[id] || len(s.store.ListByPortfolio(id)) > 0 {
		return nil
	}
	p, err := s.registry.Resolve(id)
	if err != nil {
		return err
	}
	p.Detach()
	delete(s.attached, id)
	s.logger.Info("publisher detached", slog.String("portfolio_id", id))
	return nil
}

func (s *PublisherService) attachLocked(p *engine.Portfolio) error {
	if s.attached[p.ID()] {
		return nil
	}
	if err := p.Attach(s.relayLocked(p.ID()).Relay(&topicObserver{svc: s, portfolioID: p.ID()})); err != nil {
		return err
	}
	s.attached[p.ID()] = true
	return nil
}

// relayLocked returns the relay of a portfolio, creating it on first use.
// Relays outlive detach so that events already handed over still go out.
func (s *PublisherService) relayLocked(portfolioID string) *engine.Dispatcher {
	d, ok := s.relays[portfolioID]
	if !ok {
		d = engine.NewDispatcher(s.logger.With(slog.String("portfolio_id", portfolioID)))
		s.relays[portfolioID] = d
	}
	return d
}

// Close stops every relay after it has delivered what it holds, or when
// ctx is done. Close the registry first so no more events are handed over.
func (s *PublisherService) Close(ctx context.Context) error {
	s.mu.Lock()
	relays := make(map[string]*engine.Dispatcher, len(s.relays))
	for id, d := range s.relays {
		relays[id] = d
	}
	s.mu.Unlock()

	var errs []error
	for id, d := range relays {
		if err := d.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func validateWebhookURL(raw string) error {
	if raw == "" {
		return &domain.ValidationError{Message: "url is required"}
	}
	if len(raw) > 2048 {
		return &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(raw)
	if err != nil || !parsed.IsAbs() {
		return &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return &domain.ValidationError{Message: "url must use https scheme"}
	}
	return nil
}

// topicObserver is the observer attached to a published portfolio. Its
// snapshots go to, and activate, every subscription; updates go to active
// subscriptions only.
type topicObserver struct {
	svc         *PublisherService
	portfolioID string
}

func (o *topicObserver) OnSnapshot(snap engine.Snapshot) {
	subs := o.svc.store.ListByPortfolio(o.portfolioID)
	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(buildSnapshotPayload(o.portfolioID, snap))
	if err != nil {
		o.svc.logger.Error("encode snapshot", slog.String("error", err.Error()))
		return
	}

	ids := make([]string, len(subs))
	for i, sub := range subs {
		o.svc.deliver(sub, EventSnapshot, body)
		ids[i] = sub.SubscriptionID
	}
	o.svc.store.Activate(ids...)
}

func (o *topicObserver) OnUpdate(u domain.Update) {
	subs := o.svc.store.ListByPortfolio(o.portfolioID)

	var body []byte
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		if body == nil {
			var err error
			body, err = json.Marshal(buildUpdatePayload(o.portfolioID, u))
			if err != nil {
				o.svc.logger.Error("encode update", slog.String("error", err.Error()))
				return
			}
		}
		o.svc.deliver(sub, EventUpdate, body)
	}
}

// subscriptionObserver delivers a one-shot snapshot to a single
// subscription and activates it.
type subscriptionObserver struct {
	svc            *PublisherService
	subscriptionID string
}

func (o *subscriptionObserver) OnSnapshot(snap engine.Snapshot) {
	sub, err := o.svc.store.Get(o.subscriptionID)
	if err != nil {
		// Unsubscribed before its snapshot was delivered.
		return
	}
	body, err := json.Marshal(buildSnapshotPayload(sub.PortfolioID, snap))
	if err != nil {
		o.svc.logger.Error("encode snapshot", slog.String("error", err.Error()))
		return
	}
	o.svc.deliver(sub, EventSnapshot, body)
	o.svc.store.Activate(sub.SubscriptionID)
}

func (o *subscriptionObserver) OnUpdate(domain.Update) {}

// snapshotPayload is the JSON payload for portfolio.snapshot events.
type snapshotPayload struct {
	Event     string       `json:"event"`
	Timestamp string       `json:"timestamp"`
	Data      snapshotData `json:"data"`
}

type snapshotData struct {
	PortfolioID string        `json:"portfolio_id"`
	Holdings    []holdingData `json:"holdings"`
}

type holdingData struct {
	Stock string `json:"stock"`
	Qty   int64  `json:"qty"`
}

// updatePayload is the JSON payload for portfolio.update events.
type updatePayload struct {
	Event     string     `json:"event"`
	Timestamp string     `json:"timestamp"`
	Data      updateData `json:"data"`
}

type updateData struct {
	PortfolioID string `json:"portfolio_id"`
	Stock       string `json:"stock"`
	Command     string `json:"command"`
	Qty         int64  `json:"qty"`
	OldQty      int64  `json:"old_qty"`
}

func buildSnapshotPayload(portfolioID string, snap engine.Snapshot) snapshotPayload {
	holdings := make([]holdingData, 0, snap.Len())
	snap.Ascend(func(h domain.Holding) bool {
		holdings = append(holdings, holdingData{Stock: h.Item, Qty: h.Quantity})
		return true
	})
	return snapshotPayload{
		Event:     EventSnapshot,
		Timestamp: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: snapshotData{
			PortfolioID: portfolioID,
			Holdings:    holdings,
		},
	}
}

func buildUpdatePayload(portfolioID string, u domain.Update) updatePayload {
	return updatePayload{
		Event:     EventUpdate,
		Timestamp: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: updateData{
			PortfolioID: portfolioID,
			Stock:       u.Item,
			Command:     string(u.Command()),
			Qty:         u.Qty,
			OldQty:      u.OldQty,
		},
	}
}

// deliver sends the payload via HTTP POST with the required headers.
// Failures are logged and dropped; later events are still delivered.
func (s *PublisherService) deliver(sub *domain.Subscription, eventType string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("build delivery", slog.String("subscription_id", sub.SubscriptionID), slog.String("error", err.Error()))
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Subscription-Id", sub.SubscriptionID)
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("delivery failed",
			slog.String("subscription_id", sub.SubscriptionID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("delivery rejected",
			slog.String("subscription_id", sub.SubscriptionID),
			slog.String("event", eventType),
			slog.Int("status", resp.StatusCode),
		)
	}
}
