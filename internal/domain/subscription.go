package domain

import "time"

// Subscription is a webhook registered to receive a portfolio's events.
// A subscription only receives updates once it has been sent a snapshot.
type Subscription struct {
	SubscriptionID string
	PortfolioID    string
	URL            string
	Active         bool
	CreatedAt      time.Time
}
