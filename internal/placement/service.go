// Package placement оформляет заказ из корзины продавца.
package placement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/pricing"
	"github.com/mmeshcher/localhub-client/internal/session"
	"github.com/mmeshcher/localhub-client/internal/tracking"
	"github.com/mmeshcher/localhub-client/internal/upstream"
)

// Carts описывает хранилище корзин, из которого оформляется заказ.
type Carts interface {
	Cart(vendorID string) model.Cart
	Products(vendorID string) map[string]model.Product
	Vendor(ctx context.Context, vendorID string) (*model.Vendor, error)
	PricingOptions() pricing.Options
	Clear(ctx context.Context, token session.Token, vendorID string) error
	Forget(vendorID string)
}

// Orders описывает сервис заказов.
type Orders interface {
	CreateOrder(ctx context.Context, token session.Token, r upstream.CreateOrderRequest) (*model.Order, error)
}

// Tracker запускает отслеживание оформленного заказа.
type Tracker interface {
	StartTracking(ctx context.Context, token session.Token, orderID string, mode tracking.Mode) (tracking.View, error)
}

// Request описывает данные оформления.
type Request struct {
	VendorID     string
	Address      model.Address
	DeliveryType model.DeliveryType
	Notes        string
}

// Service оформляет заказы.
type Service struct {
	carts   Carts
	orders  Orders
	journal Journal
	tracker Tracker
	logger  *zap.Logger
	newKey  func() string
}

// NewService создаёт сервис оформления. tracker может быть nil.
func NewService(carts Carts, orders Orders, journal Journal, tracker Tracker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if journal == nil {
		journal = NewMemoryJournal()
	}
	return &Service{
		carts:   carts,
		orders:  orders,
		journal: journal,
		tracker: tracker,
		logger:  logger,
		newKey:  func() string { return uuid.NewString() },
	}
}

// PlaceOrder оформляет заказ из корзины продавца.
//
// Ошибки входных данных возвращаются до любого сетевого запроса. При сетевой ошибке корзина
// сохраняется, а повторная попытка с той же корзиной отправит тот же ключ идемпотентности.
// При отказе сервера корзина сохраняется, а ключ сбрасывается.
func (s *Service) PlaceOrder(ctx context.Context, token session.Token, req Request) (*model.Order, error) {
	if err := token.Require(); err != nil {
		return nil, err
	}
	c := s.carts.Cart(req.VendorID)
	if len(c.Items) == 0 {
		return nil, model.Validationf("cart for vendor %s is empty", req.VendorID)
	}
	if req.Address.IsBlank() {
		return nil, model.Validationf("delivery address is required")
	}
	if !req.DeliveryType.Valid() {
		return nil, model.Validationf("unknown delivery type %q", req.DeliveryType)
	}

	vendor, err := s.carts.Vendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}
	if req.DeliveryType == model.DeliveryShop && !vendor.HasOwnDelivery {
		return nil, model.Validationf("vendor %s does not offer shop delivery", vendor.Name)
	}

	products := s.carts.Products(req.VendorID)
	breakdown := pricing.ComputeTotals(c.Items, products, req.DeliveryType, *vendor, s.carts.PricingOptions())
	if len(breakdown.MissingProducts) > 0 {
		s.logger.Warn("placing order with products missing from catalog",
			zap.String("vendor", req.VendorID),
			zap.Strings("products", breakdown.MissingProducts),
		)
	}
	items := freezeItems(c.Items, products)

	fp := Fingerprint(token, req.VendorID, c.Items, req.Address, req.DeliveryType)
	key, reused, err := s.journal.Reserve(ctx, Scope(token, req.VendorID), fp, s.newKey())
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if reused {
		s.logger.Info("retrying order placement", zap.String("vendor", req.VendorID), zap.String("idempotency_key", key))
	}

	order, err := s.orders.CreateOrder(ctx, token, upstream.CreateOrderRequest{
		VendorID:        req.VendorID,
		Items:           c.Items,
		DeliveryAddress: req.Address,
		DeliveryType:    req.DeliveryType,
		Notes:           req.Notes,
		IdempotencyKey:  key,
	})
	if err != nil {
		if errors.Is(err, model.ErrServerRejected) {
			if derr := s.journal.Discard(ctx, fp); derr != nil {
				s.logger.Warn("discard placement attempt", zap.Error(derr))
			}
		}
		s.logger.Warn("order placement failed",
			zap.String("vendor", req.VendorID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create order: %w", err)
	}

	if err := s.journal.Resolve(ctx, fp, order.ID); err != nil {
		s.logger.Warn("resolve placement attempt", zap.String("order", order.ID), zap.Error(err))
	}

	order.VendorID = req.VendorID
	order.Items = items
	order.Pricing = breakdown
	order.DeliveryAddress = req.Address
	order.DeliveryType = req.DeliveryType
	order.Notes = req.Notes
	order.IdempotencyKey = key

	s.logger.Info("order placed",
		zap.String("order", order.ID),
		zap.String("vendor", req.VendorID),
		zap.String("grand_total", breakdown.GrandTotal.String()),
	)

	if err := s.carts.Clear(ctx, token, req.VendorID); err != nil {
		s.logger.Warn("clear cart after placement", zap.String("vendor", req.VendorID), zap.Error(err))
		s.carts.Forget(req.VendorID)
	}

	if s.tracker != nil {
		if _, err := s.tracker.StartTracking(ctx, token, order.ID, tracking.ModeDetail); err != nil {
			s.logger.Warn("start tracking placed order", zap.String("order", order.ID), zap.Error(err))
		}
	}

	return order, nil
}

func freezeItems(items []model.CartItem, products map[string]model.Product) []model.OrderItem {
	res := make([]model.OrderItem, 0, len(items))
	for _, it := range items {
		p := products[it.ProductID]
		unit := p.EffectivePrice()
		res = append(res, model.OrderItem{
			ProductID:     it.ProductID,
			Name:          p.Name,
			UnitPrice:     unit,
			OriginalPrice: p.Price,
			Quantity:      it.Quantity,
			LineTotal:     unit.Mul(decimal.NewFromInt(int64(it.Quantity))),
		})
	}
	return res
}
