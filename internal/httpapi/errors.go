package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError converts a domain error into a status code and a JSON body.
// Anything unrecognised is logged and reported as an internal error.
func handleError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		stock      *domain.StockUnavailableError
		item       *domain.ItemUnavailableError
		validation *domain.ValidationError
		storage    *domain.StorageError
	)

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   validation.Error(),
			Code:    "validation_error",
			Details: map[string]string{"field": validation.Field, "reason": validation.Reason},
		})
	case errors.As(err, &stock):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   stock.Error(),
			Code:    "stock_unavailable",
			Details: map[string]any{"item": stock.Item.String(), "requested": stock.Requested, "available": stock.Available},
		})
	case errors.As(err, &item):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   item.Error(),
			Code:    "item_unavailable",
			Details: map[string]any{"item": item.Item.String(), "requested": item.Requested, "available": item.Available},
		})
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, domain.ErrQuantityExceeded):
		respondError(w, http.StatusConflict, "quantity_exceeded", err.Error())
	case errors.Is(err, domain.ErrInsufficientPoints):
		respondError(w, http.StatusConflict, "insufficient_points", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusConflict, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, domain.ErrBusy):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "busy", err.Error())
	case errors.As(err, &storage):
		logger.Error("storage failure", zap.String("op", storage.Op), zap.Error(storage.Err))
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "storage_error", "storage temporarily unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
