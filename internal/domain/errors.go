package domain

import "errors"

// Sentinel errors returned by the engine, the subscription store and the
// services; ErrStatusTimeout comes from the status query. The handler layer
// maps each of them to an HTTP status code.
var (
	ErrInvalidPortfolioID   = errors.New("invalid_portfolio_id")
	ErrInvalidItem          = errors.New("invalid_item")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidArgument      = errors.New("invalid_argument")
	ErrQuantityOverflow     = errors.New("quantity_overflow")
	ErrNothingToSell        = errors.New("nothing_to_sell")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrStatusTimeout        = errors.New("status_timeout")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
