// Package cart содержит корзины пользователя, по одной на продавца.
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/pricing"
	"github.com/mmeshcher/localhub-client/internal/session"
)

// Backend описывает сервис хранения корзины, адресуемой парой (пользователь, продавец).
type Backend interface {
	GetCart(ctx context.Context, token session.Token, vendorID string) ([]model.CartItem, error)
	AddItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error
	UpdateItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error
	ClearCart(ctx context.Context, token session.Token, vendorID string) error
}

// Catalog описывает каталог продавцов, доступный только для чтения.
type Catalog interface {
	GetVendor(ctx context.Context, vendorID string) (*model.Vendor, error)
	GetProducts(ctx context.Context, vendorID string) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
}

// Store хранит корзины текущей сессии.
// Мутация сначала подтверждается хранилищем и только потом применяется локально.
type Store struct {
	backend Backend
	catalog Catalog
	pricing pricing.Options
	logger  *zap.Logger

	mu       sync.Mutex
	carts    map[string]*model.Cart
	products map[string]model.Product
	// loaded отмечает продавцов, чья сохранённая корзина уже прочитана из хранилища.
	loaded   map[string]bool
	revision uint64
}

// NewStore создаёт хранилище корзин.
func NewStore(backend Backend, catalog Catalog, opts pricing.Options, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		catalog:  catalog,
		pricing:  opts,
		logger:   logger,
		carts:    make(map[string]*model.Cart),
		products: make(map[string]model.Product),
		loaded:   make(map[string]bool),
	}
}

// Load загружает сохранённую корзину продавца и актуальный каталог.
func (s *Store) Load(ctx context.Context, token session.Token, vendorID string) (model.Cart, error) {
	if err := token.Require(); err != nil {
		return model.Cart{}, err
	}

	items, err := s.backend.GetCart(ctx, token, vendorID)
	if err != nil {
		return model.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	if _, err := s.refreshProducts(ctx, vendorID); err != nil {
		return model.Cart{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded[vendorID] = true
	if len(items) == 0 {
		delete(s.carts, vendorID)
		return model.Cart{VendorID: vendorID}, nil
	}
	c := &model.Cart{VendorID: vendorID, Items: items}
	s.bump(c)
	s.carts[vendorID] = c
	return c.Clone(), nil
}

// Add добавляет товар в корзину продавца. Повторное добавление увеличивает количество.
func (s *Store) Add(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	if err := token.Require(); err != nil {
		return err
	}
	if qty < 1 {
		return model.Validationf("quantity must be at least 1, got %d", qty)
	}

	p, err := s.lookupProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.VendorID != vendorID {
		return fmt.Errorf("%w: %s belongs to %s, cart is for %s", model.ErrVendorMismatch, productID, p.VendorID, vendorID)
	}
	if !p.IsAvailable {
		return model.Validationf("product %s is not available", productID)
	}

	if err := s.ensureLoaded(ctx, token, vendorID); err != nil {
		return err
	}
	current := s.quantity(vendorID, productID)
	if current+qty > p.Stock {
		return &model.InsufficientStockError{ProductID: productID, Requested: qty, MaxAllowed: max(p.Stock-current, 0)}
	}

	if err := s.backend.AddItem(ctx, token, vendorID, productID, qty); err != nil {
		return fmt.Errorf("add item: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[vendorID]
	if !ok {
		c = &model.Cart{VendorID: vendorID}
		s.carts[vendorID] = c
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += qty
			s.bump(c)
			return nil
		}
	}
	c.Items = append(c.Items, model.CartItem{ProductID: productID, Quantity: qty})
	s.bump(c)
	return nil
}

// SetQuantity устанавливает количество товара. Ноль и меньше удаляют позицию.
// При нехватке остатка корзина не меняется.
func (s *Store) SetQuantity(ctx context.Context, token session.Token, productID string, qty int) error {
	if err := token.Require(); err != nil {
		return err
	}

	vendorID, ok := s.vendorOf(productID)
	if !ok {
		// Позиция может лежать в сохранённой корзине, которую ещё не читали.
		p, err := s.lookupProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := s.ensureLoaded(ctx, token, p.VendorID); err != nil {
			return err
		}
		if vendorID, ok = s.vendorOf(productID); !ok {
			return fmt.Errorf("%w: %s is not in any cart", model.ErrProductNotFound, productID)
		}
	}

	if qty > 0 {
		p, err := s.lookupProduct(ctx, productID)
		if err != nil {
			return err
		}
		if qty > p.Stock {
			return &model.InsufficientStockError{ProductID: productID, Requested: qty, MaxAllowed: p.Stock}
		}
	} else {
		qty = 0
	}

	if err := s.backend.UpdateItem(ctx, token, vendorID, productID, qty); err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[vendorID]
	if !ok {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if qty == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = qty
		}
		break
	}
	s.bump(c)
	if len(c.Items) == 0 {
		delete(s.carts, vendorID)
	}
	return nil
}

// Remove удаляет товар из корзины.
func (s *Store) Remove(ctx context.Context, token session.Token, productID string) error {
	return s.SetQuantity(ctx, token, productID, 0)
}

// Clear очищает корзину продавца.
func (s *Store) Clear(ctx context.Context, token session.Token, vendorID string) error {
	if err := token.Require(); err != nil {
		return err
	}
	if err := s.backend.ClearCart(ctx, token, vendorID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, vendorID)
	s.loaded[vendorID] = true
	s.revision++
	return nil
}

// Forget удаляет локальную копию корзины без обращения к хранилищу.
// Следующая мутация заново прочитает сохранённую корзину.
func (s *Store) Forget(vendorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, vendorID)
	delete(s.loaded, vendorID)
	s.revision++
}

// Cart возвращает копию корзины продавца.
func (s *Store) Cart(vendorID string) model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[vendorID]
	if !ok {
		return model.Cart{VendorID: vendorID}
	}
	return c.Clone()
}

// Carts возвращает количество товаров по каждому продавцу.
func (s *Store) Carts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]int, len(s.carts))
	for id, c := range s.carts {
		res[id] = c.TotalQuantity()
	}
	return res
}

// Products возвращает последние известные товары из позиций корзины продавца.
func (s *Store) Products(vendorID string) map[string]model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]model.Product)
	if c, ok := s.carts[vendorID]; ok {
		for _, it := range c.Items {
			if p, ok := s.products[it.ProductID]; ok {
				res[it.ProductID] = p
			}
		}
	}
	return res
}

// Breakdown пересчитывает стоимость корзины при каждом чтении.
func (s *Store) Breakdown(vendorID string, deliveryType model.DeliveryType, vendor model.Vendor) model.PricingBreakdown {
	c := s.Cart(vendorID)
	b := pricing.ComputeTotals(c.Items, s.Products(vendorID), deliveryType, vendor, s.pricing)
	if len(b.MissingProducts) > 0 {
		s.logger.Warn("cart references products missing from catalog",
			zap.String("vendor", vendorID),
			zap.Strings("products", b.MissingProducts),
		)
	}
	return b
}

// PricingOptions возвращает параметры расчёта стоимости.
func (s *Store) PricingOptions() pricing.Options {
	return s.pricing
}

// Vendor запрашивает карточку продавца из каталога.
func (s *Store) Vendor(ctx context.Context, vendorID string) (*model.Vendor, error) {
	v, err := s.catalog.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return v, nil
}

func (s *Store) refreshProducts(ctx context.Context, vendorID string) (map[string]model.Product, error) {
	list, err := s.catalog.GetProducts(ctx, vendorID)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}

	res := make(map[string]model.Product, len(list))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range list {
		res[p.ID] = p
		s.products[p.ID] = p
	}
	return res, nil
}

func (s *Store) lookupProduct(ctx context.Context, productID string) (model.Product, error) {
	p, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		var rejected *model.ServerRejectedError
		if errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound {
			return model.Product{}, fmt.Errorf("%w: %s", model.ErrProductNotFound, productID)
		}
		return model.Product{}, fmt.Errorf("get product: %w", err)
	}
	s.mu.Lock()
	s.products[p.ID] = *p
	s.mu.Unlock()
	return *p, nil
}

// ensureLoaded читает сохранённую корзину продавца перед первой мутацией,
// чтобы проверка остатка учитывала уже лежащие в ней позиции.
func (s *Store) ensureLoaded(ctx context.Context, token session.Token, vendorID string) error {
	s.mu.Lock()
	done := s.loaded[vendorID]
	s.mu.Unlock()
	if done {
		return nil
	}
	_, err := s.Load(ctx, token, vendorID)
	return err
}

func (s *Store) quantity(vendorID, productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[vendorID]; ok {
		for _, it := range c.Items {
			if it.ProductID == productID {
				return it.Quantity
			}
		}
	}
	return 0
}

func (s *Store) vendorOf(productID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.carts {
		for _, it := range c.Items {
			if it.ProductID == productID {
				return id, true
			}
		}
	}
	return "", false
}

// bump отмечает мутацию корзины; вызывается под s.mu.
func (s *Store) bump(c *model.Cart) {
	s.revision++
	c.Revision = s.revision
}
