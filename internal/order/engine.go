// Package order turns carts into committed orders.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"github.com/fjod/go_cart/shop-service/internal/ledger"
	"github.com/fjod/go_cart/shop-service/internal/lock"
	"github.com/fjod/go_cart/shop-service/internal/notify"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

type Config struct {
	// BonusRate is the share of the charged total credited back as points.
	BonusRate decimal.Decimal
	// MaxDiscountRate caps the points discount as a share of the subtotal.
	MaxDiscountRate decimal.Decimal
	// ReferralBonus is paid to the referrer on the referred user's first order.
	ReferralBonus int64
}

func DefaultConfig() Config {
	return Config{
		BonusRate:       decimal.RequireFromString("0.05"),
		MaxDiscountRate: decimal.RequireFromString("0.05"),
		ReferralBonus:   100,
	}
}

type Store interface {
	GetUserByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	ListCart(ctx context.Context, userID int64) ([]domain.CartLine, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	RecentOrders(ctx context.Context, limit int) ([]domain.Order, error)
	OrdersForUser(ctx context.Context, userID int64) ([]domain.Order, error)
	Summary(ctx context.Context) (*domain.AdminSummary, error)
	InTx(ctx context.Context, fn func(tx *repository.Tx) error) error
}

// Catalog receives stock changes made by a checkout.
type Catalog interface {
	Invalidate(ctx context.Context, categories ...string)
	NotifyIfLow(ctx context.Context, item domain.CatalogItem)
}

type Engine struct {
	store   Store
	ledger  *ledger.Ledger
	locks   *lock.Manager
	catalog Catalog
	sink    notify.Sink
	logger  *zap.Logger
	tracer  trace.Tracer
	cfg     Config
}

func NewEngine(store Store, l *ledger.Ledger, locks *lock.Manager, catalog Catalog, sink notify.Sink, logger *zap.Logger, cfg Config) *Engine {
	return &Engine{
		store:   store,
		ledger:  l,
		locks:   locks,
		catalog: catalog,
		sink:    sink,
		logger:  logger,
		tracer:  otel.Tracer("github.com/fjod/go_cart/shop-service/internal/order"),
		cfg:     cfg,
	}
}

// Discount is min(points, floor(subtotal * rate)).
func Discount(points, subtotal int64, rate decimal.Decimal) int64 {
	limit := decimal.NewFromInt(subtotal).Mul(rate).Floor().IntPart()
	if limit < 0 {
		limit = 0
	}
	return min(points, limit)
}

// EarnedPoints is floor(total * rate).
func EarnedPoints(total int64, rate decimal.Decimal) int64 {
	earned := decimal.NewFromInt(total).Mul(rate).Floor().IntPart()
	return max(earned, 0)
}

// settlement is everything a committed checkout has to announce after commit.
type settlement struct {
	order      *domain.Order
	user       *domain.User
	referral   *domain.ReferralPaid
	touched    []domain.CatalogItem
	categories []string
}

// Checkout converts the user's cart into an order in one transaction: stock is
// re-validated and deducted, the points discount is debited, the referral bonus
// is paid on a first order, earned points are credited and the cart is cleared.
// Either all of it commits or none of it does.
func (e *Engine) Checkout(ctx context.Context, externalID string) (_ *domain.CheckoutResult, err error) {
	ctx, span := e.tracer.Start(ctx, "order.checkout", trace.WithAttributes(attribute.String("user.external_id", externalID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	user, err := e.store.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	userKeys := []string{lock.UserKey(user.ID)}
	if user.ReferrerID != nil {
		userKeys = append(userKeys, lock.UserKey(*user.ReferrerID))
	}
	releaseUsers, err := e.locks.Acquire(ctx, userKeys...)
	if err != nil {
		return nil, err
	}
	defer releaseUsers()

	lines, err := e.store.ListCart(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	itemKeys := make([]string, 0, len(lines))
	for _, l := range lines {
		itemKeys = append(itemKeys, lock.ItemKey(l.ItemID))
	}
	releaseItems, err := e.locks.Acquire(ctx, itemKeys...)
	if err != nil {
		return nil, err
	}
	defer releaseItems()

	var s *settlement
	err = e.store.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		s, err = e.settle(ctx, tx, user.ID, lines)
		return err
	})
	if err != nil {
		e.logger.Info("checkout rejected", zap.String("user", externalID), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", s.order.ID),
		attribute.Int64("order.total", s.order.Total),
		attribute.Int64("order.discount", s.order.Discount),
		attribute.Int("order.lines", len(s.order.Items)))

	e.logger.Info("order created",
		zap.Int64("order_id", s.order.ID),
		zap.String("user", externalID),
		zap.Int64("subtotal", s.order.Subtotal),
		zap.Int64("discount", s.order.Discount),
		zap.Int64("total", s.order.Total),
		zap.Int64("earned_points", s.order.EarnedPoints))

	e.announce(ctx, s)

	return &domain.CheckoutResult{
		OrderID:      s.order.ID,
		Subtotal:     s.order.Subtotal,
		Discount:     s.order.Discount,
		Total:        s.order.Total,
		EarnedPoints: s.order.EarnedPoints,
		ReferralPaid: s.referral != nil,
	}, nil
}

func (e *Engine) settle(ctx context.Context, tx *repository.Tx, userID int64, lines []domain.CartLine) (*settlement, error) {
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// The lines were read before the transaction under a process-local lock.
	// Another instance may have changed the cart since then.
	fresh, err := tx.LockCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sameLines(lines, fresh) {
		return nil, fmt.Errorf("cart of user %d changed during checkout: %w", userID, domain.ErrBusy)
	}

	// Re-validate every line before touching anything; no partial fulfilment.
	items := make(map[int64]*domain.CatalogItem, len(lines))
	for _, l := range lines {
		item, err := tx.LockItem(ctx, l.ItemID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.StockUnavailableError{
				ItemID: l.ItemID, Item: domain.ItemKey{Name: l.Name, Size: l.Size}, Requested: l.Quantity,
			}
		}
		if err != nil {
			return nil, err
		}
		if l.Quantity > item.Quantity {
			return nil, &domain.StockUnavailableError{
				ItemID: item.ID, Item: item.Key(), Requested: l.Quantity, Available: item.Quantity,
			}
		}
		items[item.ID] = item
	}

	subtotal := domain.CartTotal(lines)
	discount := Discount(user.Points, subtotal, e.cfg.MaxDiscountRate)
	if user.Points < discount {
		return nil, fmt.Errorf("user %d has %d points, discount %d: %w",
			user.ID, user.Points, discount, domain.ErrInsufficientPoints)
	}

	s := &settlement{user: user}
	seen := make(map[string]struct{})
	for _, l := range lines {
		item := items[l.ItemID]
		remaining, err := tx.AdjustQuantity(ctx, l.ItemID, -l.Quantity)
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.StockUnavailableError{
				ItemID: item.ID, Item: item.Key(), Requested: l.Quantity, Available: item.Quantity,
			}
		}
		if err != nil {
			return nil, err
		}
		after := *item
		after.Quantity = remaining
		s.touched = append(s.touched, after)
		if _, ok := seen[item.Category]; !ok {
			seen[item.Category] = struct{}{}
			s.categories = append(s.categories, item.Category)
		}
	}
	sort.Strings(s.categories)

	total := subtotal - discount
	orderItems := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		orderItems = append(orderItems, domain.OrderItem{Name: l.Name, Size: l.Size, Price: l.Price, Quantity: l.Quantity})
	}
	s.order, err = tx.CreateOrder(ctx, domain.Order{
		UserID:       user.ID,
		Items:        orderItems,
		Subtotal:     subtotal,
		Discount:     discount,
		Total:        total,
		EarnedPoints: EarnedPoints(total, e.cfg.BonusRate),
	})
	if err != nil {
		return nil, err
	}
	s.order.UserExternalID = user.ExternalID
	orderRef := &s.order.ID

	orderCount, err := tx.IncrementOrderCount(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if discount > 0 {
		if _, err := e.ledger.Apply(ctx, tx, user.ID, -discount, domain.ReasonDiscount, orderRef); err != nil {
			return nil, err
		}
	}

	if orderCount == 1 && user.ReferrerID != nil && e.cfg.ReferralBonus > 0 {
		s.referral, err = e.payReferral(ctx, tx, user, s.order.ID)
		if err != nil {
			return nil, err
		}
	}

	if s.order.EarnedPoints > 0 {
		if _, err := e.ledger.Apply(ctx, tx, user.ID, s.order.EarnedPoints, domain.ReasonEarned, orderRef); err != nil {
			return nil, err
		}
	}

	lineIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		lineIDs = append(lineIDs, l.ID)
	}
	if _, err := tx.DeleteCartLines(ctx, user.ID, lineIDs); err != nil {
		return nil, err
	}

	if err := e.ledger.Audit(ctx, tx, domain.AuditOrderCreated, &user.ID, map[string]any{
		"order_id": s.order.ID,
		"subtotal": subtotal,
		"discount": discount,
		"total":    total,
		"earned":   s.order.EarnedPoints,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func sameLines(a, b []domain.CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].ItemID != b[i].ItemID ||
			a[i].Quantity != b[i].Quantity || a[i].Price != b[i].Price {
			return false
		}
	}
	return true
}

// payReferral credits the referrer once. The conditional clear of the referrer
// link decides the winner if two first orders ever race.
func (e *Engine) payReferral(ctx context.Context, tx *repository.Tx, user *domain.User, orderID int64) (*domain.ReferralPaid, error) {
	cleared, err := tx.ClearReferrer(ctx, user.ID)
	if err != nil || !cleared {
		return nil, err
	}

	referrerID := *user.ReferrerID
	if _, err := e.ledger.Apply(ctx, tx, referrerID, e.cfg.ReferralBonus, domain.ReasonReferral, &orderID); err != nil {
		return nil, err
	}
	referrer, err := tx.GetUser(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Audit(ctx, tx, domain.AuditReferralPaid, &referrerID, map[string]any{
		"referred": user.ID,
		"order_id": orderID,
		"bonus":    e.cfg.ReferralBonus,
	}); err != nil {
		return nil, err
	}

	return &domain.ReferralPaid{
		ReferrerExternalID: referrer.ExternalID,
		ReferredExternalID: user.ExternalID,
		ReferredName:       user.Name,
		Bonus:              e.cfg.ReferralBonus,
		OrderID:            orderID,
	}, nil
}

// announce runs after commit. Nothing here may fail the checkout.
func (e *Engine) announce(ctx context.Context, s *settlement) {
	e.catalog.Invalidate(ctx, s.categories...)

	e.emit(ctx, domain.OrderCreated{
		OrderID:        s.order.ID,
		UserExternalID: s.user.ExternalID,
		UserName:       s.user.Name,
		Items:          s.order.Items,
		Subtotal:       s.order.Subtotal,
		Discount:       s.order.Discount,
		Total:          s.order.Total,
		EarnedPoints:   s.order.EarnedPoints,
		CreatedAt:      s.order.CreatedAt,
	})
	if s.referral != nil {
		e.emit(ctx, *s.referral)
	}
	for _, item := range s.touched {
		e.catalog.NotifyIfLow(ctx, item)
	}
}

func (e *Engine) emit(ctx context.Context, event domain.Event) {
	if err := e.sink.Notify(ctx, event); err != nil {
		e.logger.Warn("notification failed",
			zap.String("type", string(event.Type())),
			zap.String("key", event.Key()),
			zap.Error(err))
	}
}
