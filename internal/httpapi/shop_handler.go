package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CreateUserRequestDTO struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Referrer   string `json:"referrer,omitempty"`
}

type CreateUserResponseDTO struct {
	User    *domain.User `json:"user"`
	Created bool         `json:"created"`
}

type AddItemRequestDTO struct {
	ItemID   int64  `json:"item_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     string `json:"size,omitempty"`
	Quantity int64  `json:"quantity"`
}

type ClearCartResponseDTO struct {
	Removed int64 `json:"removed"`
}

func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "category query parameter is required")
		return
	}
	items, err := h.catalog.ListByCategory(r.Context(), category)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(items))
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(categories))
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	user, created, err := h.users.Create(r.Context(), req.ExternalID, req.Name, req.Referrer)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, CreateUserResponseDTO{User: user, Created: created})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.users.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.users.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(history))
}

func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.OrdersFor(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(orders))
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	c.Lines = nonNil(c.Lines)
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	userID := chi.URLParam(r, "userID")
	var (
		line *domain.CartLine
		err  error
	)
	switch {
	case req.ItemID > 0:
		line, err = h.carts.AddLine(r.Context(), userID, req.ItemID, req.Quantity)
	case req.Name != "":
		line, err = h.carts.AddLineByKey(r.Context(), userID, domain.ItemKey{Name: req.Name, Size: req.Size}, req.Quantity)
	default:
		respondError(w, http.StatusBadRequest, "invalid_item", "item_id or name is required")
		return
	}
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, line)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	n, err := h.carts.Clear(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, ClearCartResponseDTO{Removed: n})
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	result, err := h.orders.Checkout(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
