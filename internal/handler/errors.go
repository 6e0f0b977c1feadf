package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/portfoliofeed/internal/domain"
)

// writeDomainError maps domain errors to HTTP responses.
func writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidPortfolioID):
		WriteError(w, http.StatusBadRequest, "invalid_portfolio_id", err.Error())
	case errors.Is(err, domain.ErrInvalidItem):
		WriteError(w, http.StatusBadRequest, "invalid_item", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		WriteError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		WriteError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, domain.ErrQuantityOverflow):
		WriteError(w, http.StatusUnprocessableEntity, "quantity_overflow", err.Error())
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		WriteError(w, http.StatusNotFound, "subscription_not_found", err.Error())
	case errors.Is(err, domain.ErrStatusTimeout):
		WriteError(w, http.StatusGatewayTimeout, "status_timeout", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
