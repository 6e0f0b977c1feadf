package handler

import (
	"net/http"

	"github.com/efreitasn/portfoliofeed/internal/domain"
	"github.com/efreitasn/portfoliofeed/internal/service"
	"github.com/go-chi/chi/v5"
)

// SubscriptionHandler handles HTTP requests for subscription endpoints.
type SubscriptionHandler struct {
	publisherSvc *service.PublisherService
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(publisherSvc *service.PublisherService) *SubscriptionHandler {
	return &SubscriptionHandler{publisherSvc: publisherSvc}
}

// createSubscriptionRequest is the JSON request body for POST /subscriptions.
type createSubscriptionRequest struct {
	PortfolioID string `json:"portfolio_id"`
	URL         string `json:"url"`
}

type subscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	PortfolioID    string `json:"portfolio_id"`
	URL            string `json:"url"`
	Active         bool   `json:"active"`
	CreatedAt      string `json:"created_at"`
}

type subscriptionListResponse struct {
	Subscriptions []subscriptionResponse `json:"subscriptions"`
}

// Create handles POST /subscriptions. A repeated (portfolio_id, url) pair
// returns the existing subscription with 200.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sub, created, err := h.publisherSvc.Subscribe(service.SubscribeRequest{
		PortfolioID: req.PortfolioID,
		URL:         req.URL,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, buildSubscriptionResponse(sub))
}

// List handles GET /subscriptions.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	if portfolioID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "portfolio_id query parameter is required")
		return
	}

	subs, err := h.publisherSvc.List(portfolioID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := subscriptionListResponse{Subscriptions: make([]subscriptionResponse, len(subs))}
	for i, sub := range subs {
		resp.Subscriptions[i] = buildSubscriptionResponse(sub)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /subscriptions/{subscription_id}.
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.publisherSvc.Unsubscribe(chi.URLParam(r, "subscription_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildSubscriptionResponse(sub *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		SubscriptionID: sub.SubscriptionID,
		PortfolioID:    sub.PortfolioID,
		URL:            sub.URL,
		Active:         sub.Active,
		CreatedAt:      sub.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
