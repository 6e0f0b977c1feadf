package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/portfoliofeed/internal/domain"
	"github.com/efreitasn/portfoliofeed/internal/engine"
	"github.com/google/uuid"
)

// Request kinds accepted by Execute.
const (
	RequestBuy  = "BUY"
	RequestSell = "SELL"
)

// ExecuteRequest represents a buy or sell request for one portfolio.
type ExecuteRequest struct {
	Request     string
	PortfolioID string
	Stock       string
	Quantity    int64
}

// ExecuteResult reports how an accepted request was applied.
type ExecuteResult string

const (
	ResultOK            ExecuteResult = "ok"
	ResultNothingToSell ExecuteResult = "nothing_to_sell"
)

// PortfolioStatus is the point-in-time content of a portfolio.
type PortfolioStatus struct {
	CorrelationID string
	PortfolioID   string
	Holdings      []domain.Holding
	AsOf          time.Time
}

// PortfolioService handles buy/sell requests and status queries.
type PortfolioService struct {
	registry      *engine.Registry
	statusTimeout time.Duration
	logger        *slog.Logger
}

// NewPortfolioService creates a new PortfolioService.
func NewPortfolioService(registry *engine.Registry, statusTimeout time.Duration, logger *slog.Logger) *PortfolioService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortfolioService{
		registry:      registry,
		statusTimeout: statusTimeout,
		logger:        logger,
	}
}

// Execute validates and applies a BUY or SELL request. Selling an item
// that is not held is not an error: it returns ResultNothingToSell.
func (s *PortfolioService) Execute(req ExecuteRequest) (ExecuteResult, error) {
	if req.Request != RequestBuy && req.Request != RequestSell {
		return "", &domain.ValidationError{
			Message: fmt.Sprintf("Unknown request: %s. Must be one of: BUY, SELL", req.Request),
		}
	}

	p, err := s.registry.Resolve(req.PortfolioID)
	if err != nil {
		return "", err
	}

	if req.Request == RequestBuy {
		err = p.Buy(req.Stock, req.Quantity)
	} else {
		err = p.Sell(req.Stock, req.Quantity)
	}
	if errors.Is(err, domain.ErrNothingToSell) {
		return ResultNothingToSell, nil
	}
	if err != nil {
		return "", err
	}
	return ResultOK, nil
}

// Status requests a one-shot snapshot of the portfolio and waits for it to
// come through the portfolio's dispatch queue, so the answer is ordered
// after every update already published. It fails with
// domain.ErrStatusTimeout if the snapshot does not arrive in time.
func (s *PortfolioService) Status(ctx context.Context, portfolioID string) (*PortfolioStatus, error) {
	p, err := s.registry.Resolve(portfolioID)
	if err != nil {
		return nil, err
	}

	// Buffered so a late delivery never blocks the dispatch goroutine.
	ch := make(chan engine.Snapshot, 1)
	err = p.RequestSnapshot(engine.ObserverFuncs{
		Snapshot: func(snap engine.Snapshot) {
			ch <- snap
		},
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.statusTimeout)
	defer cancel()

	select {
	case snap := <-ch:
		return &PortfolioStatus{
			CorrelationID: uuid.New().String(),
			PortfolioID:   p.ID(),
			Holdings:      snap.Holdings(),
			AsOf:          time.Now().UTC(),
		}, nil
	case <-ctx.Done():
		s.logger.Warn("status request timed out", slog.String("portfolio_id", portfolioID))
		return nil, fmt.Errorf("%s: %w", portfolioID, domain.ErrStatusTimeout)
	}
}
