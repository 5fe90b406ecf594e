package cart

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/pricing"
	"github.com/mmeshcher/localhub-client/internal/session"
)

const token = session.Token("tkn")

type stubCatalog struct {
	vendors  map[string]model.Vendor
	products map[string]model.Product
	err      error
}

func (c *stubCatalog) GetVendor(ctx context.Context, vendorID string) (*model.Vendor, error) {
	v, ok := c.vendors[vendorID]
	if !ok {
		return nil, &model.ServerRejectedError{StatusCode: http.StatusNotFound, Message: "Vendor not found"}
	}
	return &v, nil
}

func (c *stubCatalog) GetProducts(ctx context.Context, vendorID string) ([]model.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	var res []model.Product
	for _, p := range c.products {
		if p.VendorID == vendorID {
			res = append(res, p)
		}
	}
	return res, nil
}

func (c *stubCatalog) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[productID]
	if !ok {
		return nil, &model.ServerRejectedError{StatusCode: http.StatusNotFound, Message: "Product not found"}
	}
	return &p, nil
}

type backendCall struct {
	op        string
	vendorID  string
	productID string
	qty       int
}

type stubBackend struct {
	calls []backendCall
	items map[string][]model.CartItem
	err   error
}

func (b *stubBackend) GetCart(ctx context.Context, token session.Token, vendorID string) ([]model.CartItem, error) {
	b.calls = append(b.calls, backendCall{op: "get", vendorID: vendorID})
	return b.items[vendorID], b.err
}

func (b *stubBackend) AddItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	b.calls = append(b.calls, backendCall{op: "add", vendorID: vendorID, productID: productID, qty: qty})
	return b.err
}

func (b *stubBackend) UpdateItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	b.calls = append(b.calls, backendCall{op: "update", vendorID: vendorID, productID: productID, qty: qty})
	return b.err
}

func (b *stubBackend) ClearCart(ctx context.Context, token session.Token, vendorID string) error {
	b.calls = append(b.calls, backendCall{op: "clear", vendorID: vendorID})
	return b.err
}

func newTestStore(t *testing.T) (*Store, *stubBackend, *stubCatalog) {
	t.Helper()
	catalog := &stubCatalog{
		vendors: map[string]model.Vendor{
			"A": {ID: "A", Name: "Alpha", HasOwnDelivery: true},
			"B": {ID: "B", Name: "Beta"},
		},
		products: map[string]model.Product{
			"a1": {ID: "a1", VendorID: "A", Price: decimal.NewFromInt(100), Stock: 5, IsAvailable: true},
			"a2": {ID: "a2", VendorID: "A", Price: decimal.NewFromInt(40), Stock: 10, IsAvailable: true},
			"a3": {ID: "a3", VendorID: "A", Price: decimal.NewFromInt(10), Stock: 10, IsAvailable: false},
			"b1": {ID: "b1", VendorID: "B", Price: decimal.NewFromInt(7), Stock: 3, IsAvailable: true},
		},
	}
	backend := &stubBackend{items: map[string][]model.CartItem{}}
	return NewStore(backend, catalog, pricing.DefaultOptions(), nil), backend, catalog
}

func TestAdd_AccumulatesQuantity(t *testing.T) {
	ctx := context.Background()

	twice, _, _ := newTestStore(t)
	require.NoError(t, twice.Add(ctx, token, "A", "a1", 1))
	require.NoError(t, twice.Add(ctx, token, "A", "a1", 2))

	once, _, _ := newTestStore(t)
	require.NoError(t, once.Add(ctx, token, "A", "a1", 3))

	assert.Equal(t, once.Cart("A").Items, twice.Cart("A").Items)
	assert.Equal(t, []model.CartItem{{ProductID: "a1", Quantity: 3}}, twice.Cart("A").Items)
}

func TestAdd_VendorMismatch(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 1))

	err := s.Add(ctx, token, "A", "b1", 1)
	require.ErrorIs(t, err, model.ErrVendorMismatch)

	assert.Equal(t, []model.CartItem{{ProductID: "a1", Quantity: 1}}, s.Cart("A").Items)
	assert.Equal(t, []backendCall{
		{op: "get", vendorID: "A"},
		{op: "add", vendorID: "A", productID: "a1", qty: 1},
	}, backend.calls, "rejected add must not reach the backend")

	// Тот же продавец всегда принимается.
	require.NoError(t, s.Add(ctx, token, "A", "a2", 1))
	require.NoError(t, s.Add(ctx, token, "B", "b1", 1))
	assert.Equal(t, map[string]int{"A": 2, "B": 1}, s.Carts())
}

func TestAdd_Validation(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.ErrorIs(t, s.Add(ctx, token, "A", "a1", 0), model.ErrValidation)
	require.ErrorIs(t, s.Add(ctx, token, "A", "a3", 1), model.ErrValidation)
	require.ErrorIs(t, s.Add(ctx, token, "A", "missing", 1), model.ErrProductNotFound)
	require.ErrorIs(t, s.Add(ctx, "", "A", "a1", 1), model.ErrNoSession)
	assert.Empty(t, backend.calls)
}

func TestAdd_BeyondStock(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 4))

	err := s.Add(ctx, token, "A", "a1", 2)
	var stockErr *model.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.MaxAllowed, "only the remaining room can be added")
	assert.Equal(t, 4, s.Cart("A").Items[0].Quantity)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 1))
	err = s.Add(ctx, token, "A", "a1", 1)
	require.ErrorAs(t, err, &stockErr)
	assert.Zero(t, stockErr.MaxAllowed)
}

func TestAdd_CountsStoredCart(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)
	backend.items["A"] = []model.CartItem{{ProductID: "a1", Quantity: 4}}

	err := s.Add(ctx, token, "A", "a1", 2)
	var stockErr *model.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.MaxAllowed)
	assert.Equal(t, []model.CartItem{{ProductID: "a1", Quantity: 4}}, s.Cart("A").Items)

	require.NoError(t, s.Add(ctx, token, "A", "a2", 1))
	assert.Equal(t, []model.CartItem{{ProductID: "a1", Quantity: 4}, {ProductID: "a2", Quantity: 1}}, s.Cart("A").Items)

	var gets int
	for _, c := range backend.calls {
		if c.op == "get" {
			gets++
		}
	}
	assert.Equal(t, 1, gets, "stored cart is read once")
}

func TestSetQuantity_ItemFromStoredCart(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)
	backend.items["A"] = []model.CartItem{{ProductID: "a1", Quantity: 2}}

	require.NoError(t, s.SetQuantity(ctx, token, "a1", 3))
	assert.Equal(t, []model.CartItem{{ProductID: "a1", Quantity: 3}}, s.Cart("A").Items)
	last := backend.calls[len(backend.calls)-1]
	assert.Equal(t, backendCall{op: "update", vendorID: "A", productID: "a1", qty: 3}, last)

	require.ErrorIs(t, s.SetQuantity(ctx, token, "a2", 1), model.ErrProductNotFound)
}

func TestForget_RereadsStoredCart(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 1))
	s.Forget("A")
	backend.items["A"] = []model.CartItem{{ProductID: "a1", Quantity: 5}}

	require.ErrorIs(t, s.Add(ctx, token, "A", "a1", 1), model.ErrInsufficientStock)
	assert.Equal(t, 5, s.Cart("A").Items[0].Quantity)
}

func TestSetQuantity_BeyondStockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 2))
	require.NoError(t, s.Add(ctx, token, "A", "a2", 1))
	before := s.Cart("A")
	calls := len(backend.calls)

	for _, qty := range []int{6, 7, 100} {
		err := s.SetQuantity(ctx, token, "a1", qty)
		require.ErrorIs(t, err, model.ErrInsufficientStock)

		var stockErr *model.InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, 5, stockErr.MaxAllowed)
		assert.Equal(t, qty, stockErr.Requested)
	}

	assert.Equal(t, before, s.Cart("A"))
	assert.Len(t, backend.calls, calls)

	require.NoError(t, s.SetQuantity(ctx, token, "a1", 5))
	assert.Equal(t, 5, s.Cart("A").Items[0].Quantity)
}

func TestSetQuantity_ZeroRemovesAndDropsEmptyCart(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 2))
	require.NoError(t, s.SetQuantity(ctx, token, "a1", -3))

	assert.Empty(t, s.Cart("A").Items)
	assert.Empty(t, s.Carts())
	last := backend.calls[len(backend.calls)-1]
	assert.Equal(t, backendCall{op: "update", vendorID: "A", productID: "a1", qty: 0}, last)

	require.ErrorIs(t, s.Remove(ctx, token, "a1"), model.ErrProductNotFound)
}

func TestMutation_BackendFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 2))
	before := s.Cart("A")

	backend.err = model.ErrNetwork
	require.ErrorIs(t, s.Add(ctx, token, "A", "a1", 1), model.ErrNetwork)
	require.ErrorIs(t, s.SetQuantity(ctx, token, "a1", 1), model.ErrNetwork)
	require.ErrorIs(t, s.Clear(ctx, token, "A"), model.ErrNetwork)

	assert.Equal(t, before, s.Cart("A"))
}

func TestMutation_BumpsRevision(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	require.NoError(t, s.Add(ctx, token, "A", "a1", 1))
	r1 := s.Cart("A").Revision
	require.NoError(t, s.Add(ctx, token, "A", "a2", 1))
	r2 := s.Cart("A").Revision
	require.NoError(t, s.SetQuantity(ctx, token, "a2", 3))
	r3 := s.Cart("A").Revision

	assert.Less(t, r1, r2)
	assert.Less(t, r2, r3)
}

func TestBreakdown_RecomputedAfterMutation(t *testing.T) {
	ctx := context.Background()
	s, _, catalog := newTestStore(t)
	vendor := catalog.vendors["B"]

	require.NoError(t, s.Add(ctx, token, "A", "a1", 2))
	b := s.Breakdown("A", model.DeliveryAgent, vendor)
	assert.True(t, decimal.NewFromInt(240).Equal(b.GrandTotal), "grand total = %s", b.GrandTotal)

	require.NoError(t, s.Add(ctx, token, "A", "a2", 1))
	b = s.Breakdown("A", model.DeliveryAgent, vendor)
	// 240 subtotal, tax 12, fee 30.
	assert.True(t, decimal.NewFromInt(282).Equal(b.GrandTotal), "grand total = %s", b.GrandTotal)

	require.NoError(t, s.Clear(ctx, token, "A"))
	b = s.Breakdown("A", model.DeliveryAgent, vendor)
	assert.True(t, b.Subtotal.IsZero())
}

func TestLoad_HydratesFromBackend(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newTestStore(t)
	backend.items["A"] = []model.CartItem{{ProductID: "a1", Quantity: 2}}

	c, err := s.Load(ctx, token, "A")
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{{ProductID: "a1", Quantity: 2}}, c.Items)

	b := s.Breakdown("A", model.DeliveryShop, model.Vendor{HasOwnDelivery: true})
	assert.True(t, decimal.NewFromInt(210).Equal(b.GrandTotal))
}

func TestLoad_CatalogFailure(t *testing.T) {
	s, _, catalog := newTestStore(t)
	catalog.err = errors.New("boom")

	_, err := s.Load(context.Background(), token, "A")
	require.Error(t, err)
}
