// Package httpapi exposes the shop operations over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/ledger"
	"github.com/fjod/go_cart/shop-service/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type CatalogService interface {
	Categories(ctx context.Context) ([]string, error)
	ListByCategory(ctx context.Context, category string) ([]domain.CatalogItem, error)
	LowStock(ctx context.Context) ([]domain.CatalogItem, error)
	Upsert(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	SetQuantity(ctx context.Context, key domain.ItemKey, quantity int64) (bool, error)
	AdjustQuantity(ctx context.Context, id, delta int64) (int64, error)
	Delete(ctx context.Context, key domain.ItemKey) (bool, error)
}

type CartService interface {
	AddLine(ctx context.Context, externalID string, itemID, qty int64) (*domain.CartLine, error)
	AddLineByKey(ctx context.Context, externalID string, key domain.ItemKey, qty int64) (*domain.CartLine, error)
	List(ctx context.Context, externalID string) (*cart.Cart, error)
	Clear(ctx context.Context, externalID string) (int64, error)
}

type OrderService interface {
	Checkout(ctx context.Context, externalID string) (*domain.CheckoutResult, error)
	RecentOrders(ctx context.Context, limit int) ([]domain.Order, error)
	OrdersFor(ctx context.Context, externalID string) ([]domain.Order, error)
	Summary(ctx context.Context) (*domain.AdminSummary, error)
}

type UserService interface {
	Create(ctx context.Context, externalID, name, referrerExternalID string) (*domain.User, bool, error)
	Profile(ctx context.Context, externalID string) (*domain.Profile, error)
	History(ctx context.Context, externalID string) ([]domain.PointsEntry, error)
	AdjustPoints(ctx context.Context, externalID string, delta int64, reason domain.PointsReason, orderID *int64) (*ledger.Change, error)
	MarkOrderFulfilled(ctx context.Context, orderID int64) (*domain.Order, error)
}

type Options struct {
	AdminToken       string
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	Cooldown         time.Duration
	CheckoutCooldown time.Duration
}

type Handler struct {
	catalog CatalogService
	carts   CartService
	orders  OrderService
	users   UserService
	limiter ratelimit.Limiter
	opts    Options
	logger  *zap.Logger
}

func NewHandler(catalog CatalogService, carts CartService, orders OrderService, users UserService, limiter ratelimit.Limiter, opts Options, logger *zap.Logger) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		catalog: catalog,
		carts:   carts,
		orders:  orders,
		users:   users,
		limiter: limiter,
		opts:    opts,
		logger:  logger,
	}
}

// Router builds the chi routing tree wrapped in otelhttp instrumentation.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.opts.RequestTimeout))
	r.Use(middleware.RequestSize(h.opts.MaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/catalog", h.ListCatalog)
		r.Get("/categories", h.ListCategories)

		r.Post("/users", h.CreateUser)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Get("/history", h.GetHistory)
			r.Get("/orders", h.GetUserOrders)
			r.Get("/cart", h.GetCart)
			r.With(h.cooldown("cart", h.opts.Cooldown)).Delete("/cart", h.ClearCart)
			r.With(h.cooldown("cart", h.opts.Cooldown)).Post("/cart/items", h.AddCartItem)
			r.With(h.cooldown("checkout", h.opts.CheckoutCooldown)).Post("/checkout", h.Checkout)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminOnly(h.opts.AdminToken))
			r.Put("/items", h.UpsertItem)
			r.Patch("/items/quantity", h.AdjustQuantity)
			r.Delete("/items", h.DeleteItem)
			r.Get("/low-stock", h.LowStock)
			r.Get("/orders", h.RecentOrders)
			r.Post("/orders/{orderID}/fulfill", h.FulfillOrder)
			r.Get("/summary", h.Summary)
			r.Post("/users/{userID}/points", h.AdjustPoints)
		})
	})

	return otelhttp.NewHandler(r, "shop-service",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
