package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
)

func testOptions() Options {
	return Options{
		Timeout:      time.Second,
		RetryMax:     1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, testOptions(), nil)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const orderJSON = `{
	"order_id": "order_0123456789ab",
	"vendor_id": "vendor_1",
	"vendor_name": "Fresh Mart",
	"vendor_phone": "+91 11111",
	"vendor_address": "MG Road",
	"items": [{"product_id": "p1", "name": "Milk", "price": 45, "original_price": 50, "quantity": 2, "total": 90}],
	"subtotal": 90,
	"tax_rate": 0.05,
	"tax_amount": 4.5,
	"delivery_fee": 30,
	"grand_total": 124.5,
	"delivery_address": {"label": "home", "address": "12 Park Street"},
	"delivery_type": "agent_delivery",
	"agent_name": "Ravi",
	"agent_location": {"lat": 12.9, "lng": 77.6},
	"status": "preparing",
	"status_history": [
		{"status": "placed", "timestamp": "2025-03-01T10:00:00.123000", "message": "Order placed"},
		{"status": "preparing", "timestamp": "2025-03-01T10:05:00+00:00", "message": "Order preparing"}
	],
	"estimated_delivery": "2025-03-01T10:45:00+00:00",
	"created_at": "2025-03-01T10:00:00"
}`

func TestGetOrderStatus_OK(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/orders/order_0123456789ab" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tkn" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(orderJSON))
	})

	snap, err := client.GetOrderStatus(testCtx(t), session.Token("tkn"), "order_0123456789ab")
	if err != nil {
		t.Fatalf("GetOrderStatus error: %v", err)
	}
	if snap.Status != model.StatusPreparing {
		t.Fatalf("status = %s, want preparing", snap.Status)
	}
	if len(snap.Timeline) != 2 || snap.Timeline[0].Status != model.StatusPlaced {
		t.Fatalf("unexpected timeline: %+v", snap.Timeline)
	}
	if snap.Agent == nil || snap.Agent.Name != "Ravi" || snap.Agent.Location == nil {
		t.Fatalf("unexpected agent: %+v", snap.Agent)
	}
	if snap.Vendor.Name != "Fresh Mart" {
		t.Fatalf("vendor = %+v", snap.Vendor)
	}
	if !snap.GrandTotal.Equal(decimal.RequireFromString("124.5")) {
		t.Fatalf("grand total = %s", snap.GrandTotal)
	}
	if snap.EstimatedDelivery == nil {
		t.Fatalf("estimated delivery not parsed")
	}
	if snap.FetchedAt.IsZero() {
		t.Fatalf("fetched at not set")
	}
}

func TestGetOrderStatus_NoTokenIsLocal(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.GetOrderStatus(testCtx(t), "", "order_1")
	if !errors.Is(err, model.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("request was sent without a token")
	}
}

func TestServerRejected_DetailVerbatim(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail": "This vendor doesn't offer delivery"}`))
	})

	_, err := client.CreateOrder(testCtx(t), "tkn", CreateOrderRequest{VendorID: "v1"})
	if !errors.Is(err, model.ErrServerRejected) {
		t.Fatalf("err = %v, want ErrServerRejected", err)
	}
	var rejected *model.ServerRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err is not ServerRejectedError: %T", err)
	}
	if rejected.Message != "This vendor doesn't offer delivery" {
		t.Fatalf("message = %q", rejected.Message)
	}
	if rejected.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code = %d", rejected.StatusCode)
	}
}

func TestServerError_IsNetworkAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.CancelOrder(testCtx(t), "tkn", "order_1", "changed my mind")
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestTooManyRequests_Retried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	orders, err := client.ListOrders(testCtx(t), "tkn")
	if err != nil {
		t.Fatalf("ListOrders error: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("orders = %+v", orders)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCreateOrder_SendsIdempotencyKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(IdempotencyHeader); got != "key-1" {
			t.Errorf("idempotency key = %q", got)
		}

		var req createOrderDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.VendorID != "vendor_1" || req.DeliveryType != "agent_delivery" || req.DeliveryAddress.Line != "12 Park Street" {
			t.Errorf("unexpected body: %+v", req)
		}
		if len(req.Items) != 1 || req.Items[0].Quantity != 2 {
			t.Errorf("unexpected items: %+v", req.Items)
		}

		_, _ = w.Write([]byte(`{"message": "Order placed successfully", "order": ` + orderJSON + `}`))
	})

	order, err := client.CreateOrder(testCtx(t), "tkn", CreateOrderRequest{
		VendorID:        "vendor_1",
		Items:           []model.CartItem{{ProductID: "p1", Quantity: 2}},
		DeliveryAddress: model.Address{Label: "home", Line: "12 Park Street"},
		DeliveryType:    model.DeliveryAgent,
		IdempotencyKey:  "key-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder error: %v", err)
	}
	if order.ID != "order_0123456789ab" {
		t.Fatalf("order id = %q", order.ID)
	}
	if len(order.Items) != 1 || !order.Items[0].OriginalPrice.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected items: %+v", order.Items)
	}
	if order.DeliveryAddress.Line != "12 Park Street" {
		t.Fatalf("address = %+v", order.DeliveryAddress)
	}
}

func TestGetProducts_Defaults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/localhub/vendors/vendor_1/products" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("catalog request must not carry the session token")
		}
		_, _ = w.Write([]byte(`[
			{"product_id": "p1", "vendor_id": "vendor_1", "name": "Milk", "price": 50, "discounted_price": 45, "stock": 3},
			{"product_id": "p2", "vendor_id": "vendor_1", "name": "Bread", "price": 30, "discounted_price": null, "stock": -1, "is_available": false}
		]`))
	})

	products, err := client.GetProducts(testCtx(t), "vendor_1")
	if err != nil {
		t.Fatalf("GetProducts error: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("products = %+v", products)
	}
	if !products[0].IsAvailable || !products[0].EffectivePrice().Equal(decimal.NewFromInt(45)) {
		t.Fatalf("unexpected first product: %+v", products[0])
	}
	if products[1].IsAvailable || products[1].Stock != 0 || products[1].DiscountedPrice != nil {
		t.Fatalf("unexpected second product: %+v", products[1])
	}
}

func TestGetCart_QueryAndItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("vendor_id") != "vendor_1" {
			t.Errorf("vendor_id = %q", r.URL.Query().Get("vendor_id"))
		}
		_, _ = w.Write([]byte(`{"vendor_id": "vendor_1", "items": [{"product_id": "p1", "quantity": 2}, {"product_id": "p2", "quantity": 0}]}`))
	})

	items, err := client.GetCart(testCtx(t), "tkn", "vendor_1")
	if err != nil {
		t.Fatalf("GetCart error: %v", err)
	}
	if len(items) != 1 || items[0].ProductID != "p1" || items[0].Quantity != 2 {
		t.Fatalf("items = %+v", items)
	}
}

func TestUnknownStatus_IsNetworkError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order_id": "o1", "status": "teleported"}`))
	})

	_, err := client.GetOrderStatus(testCtx(t), "tkn", "o1")
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}
