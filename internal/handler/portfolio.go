package handler

import (
	"net/http"
	"time"

	"github.com/efreitasn/portfoliofeed/internal/service"
	"github.com/go-chi/chi/v5"
)

// PortfolioHandler handles HTTP requests for portfolio endpoints.
type PortfolioHandler struct {
	portfolioSvc *service.PortfolioService
}

// NewPortfolioHandler creates a new PortfolioHandler.
func NewPortfolioHandler(portfolioSvc *service.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolioSvc: portfolioSvc}
}

// orderRequest is the JSON request body for POST /portfolios/{portfolio_id}/orders.
type orderRequest struct {
	Request  string `json:"request"`
	Stock    string `json:"stock"`
	Quantity int64  `json:"quantity"`
}

type orderResponse struct {
	PortfolioID string `json:"portfolio_id"`
	Request     string `json:"request"`
	Stock       string `json:"stock"`
	Quantity    int64  `json:"quantity"`
	Status      string `json:"status"`
}

type holdingResponse struct {
	Stock    string `json:"stock"`
	Quantity int64  `json:"quantity"`
}

type statusResponse struct {
	CorrelationID string            `json:"correlation_id"`
	PortfolioID   string            `json:"portfolio_id"`
	Holdings      []holdingResponse `json:"holdings"`
	AsOf          string            `json:"as_of"`
}

// PostOrder handles POST /portfolios/{portfolio_id}/orders.
func (h *PortfolioHandler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	portfolioID := chi.URLParam(r, "portfolio_id")
	result, err := h.portfolioSvc.Execute(service.ExecuteRequest{
		Request:     req.Request,
		PortfolioID: portfolioID,
		Stock:       req.Stock,
		Quantity:    req.Quantity,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, orderResponse{
		PortfolioID: portfolioID,
		Request:     req.Request,
		Stock:       req.Stock,
		Quantity:    req.Quantity,
		Status:      string(result),
	})
}

// GetStatus handles GET /portfolios/{portfolio_id}.
func (h *PortfolioHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.portfolioSvc.Status(r.Context(), chi.URLParam(r, "portfolio_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	holdings := make([]holdingResponse, len(status.Holdings))
	for i, hd := range status.Holdings {
		holdings[i] = holdingResponse{Stock: hd.Item, Quantity: hd.Quantity}
	}
	WriteJSON(w, http.StatusOK, statusResponse{
		CorrelationID: status.CorrelationID,
		PortfolioID:   status.PortfolioID,
		Holdings:      holdings,
		AsOf:          status.AsOf.Format(time.RFC3339Nano),
	})
}
