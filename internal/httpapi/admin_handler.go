package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

type UpsertItemRequestDTO struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Size     string `json:"size,omitempty"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// AdjustQuantityRequestDTO either sets an absolute quantity for (name, size)
// or applies a delta to item_id.
type AdjustQuantityRequestDTO struct {
	ItemID   int64  `json:"item_id,omitempty"`
	Delta    *int64 `json:"delta,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     string `json:"size,omitempty"`
	Quantity *int64 `json:"quantity,omitempty"`
}

type AdjustQuantityResponseDTO struct {
	Updated  bool   `json:"updated"`
	Quantity *int64 `json:"quantity,omitempty"`
}

type DeleteItemResponseDTO struct {
	Deleted bool `json:"deleted"`
}

type AdjustPointsRequestDTO struct {
	Delta int64 `json:"delta"`
}

type AdjustPointsResponseDTO struct {
	Applied int64 `json:"applied"`
	Balance int64 `json:"balance"`
}

func (h *Handler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	var req UpsertItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	item, err := h.catalog.Upsert(r.Context(), domain.CatalogItem{
		Category: req.Category,
		Name:     req.Name,
		Size:     req.Size,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) AdjustQuantity(w http.ResponseWriter, r *http.Request) {
	var req AdjustQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	switch {
	case req.ItemID > 0 && req.Delta != nil:
		qty, err := h.catalog.AdjustQuantity(r.Context(), req.ItemID, *req.Delta)
		if err != nil {
			handleError(w, h.logger, err)
			return
		}
		respondJSON(w, http.StatusOK, AdjustQuantityResponseDTO{Updated: true, Quantity: &qty})
	case req.Name != "" && req.Quantity != nil:
		ok, err := h.catalog.SetQuantity(r.Context(), domain.ItemKey{Name: req.Name, Size: req.Size}, *req.Quantity)
		if err != nil {
			handleError(w, h.logger, err)
			return
		}
		if !ok {
			respondError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		respondJSON(w, http.StatusOK, AdjustQuantityResponseDTO{Updated: true, Quantity: req.Quantity})
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "either item_id with delta or name with quantity is required")
	}
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deleted, err := h.catalog.Delete(r.Context(), domain.ItemKey{Name: q.Get("name"), Size: q.Get("size")})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteItemResponseDTO{Deleted: deleted})
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.LowStock(r.Context())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) RecentOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = n
	}

	orders, err := h.orders.RecentOrders(r.Context(), limit)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

func (h *Handler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a positive integer")
		return
	}

	o, err := h.users.MarkOrderFulfilled(r.Context(), orderID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.orders.Summary(r.Context())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	var req AdjustPointsRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	change, err := h.users.AdjustPoints(r.Context(), chi.URLParam(r, "userID"), req.Delta, domain.ReasonManual, nil)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, AdjustPointsResponseDTO{Applied: change.Applied, Balance: change.Balance})
}
