// Package upstream предоставляет HTTP-клиент для внешних сервисов каталога, корзины и заказов.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/session"
)

// IdempotencyHeader задаёт заголовок с ключом идемпотентности создания заказа.
const IdempotencyHeader = "Idempotency-Key"

// Options задаёт параметры HTTP-взаимодействия с внешними сервисами.
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultOptions возвращает стандартные параметры клиента.
func DefaultOptions() Options {
	return Options{
		Timeout:      5 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// Client инкапсулирует HTTP-взаимодействие с внешними сервисами.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
	logger     *zap.Logger
}

// NewClient создаёт клиент для обращения к внешним сервисам по указанному адресу.
func NewClient(baseURL string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.HTTPClient.Timeout = opts.Timeout
	rc.HTTPClient.Transport = otelhttp.NewTransport(rc.HTTPClient.Transport)
	rc.Logger = leveledLogger{s: logger.Sugar()}
	// Ответ после исчерпания повторов классифицируется в do.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    base,
		httpClient: rc,
		logger:     logger,
	}
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

type call struct {
	method         string
	path           string
	query          url.Values
	token          session.Token
	authorized     bool
	body           any
	idempotencyKey string
	out            any
}

func (c *Client) do(ctx context.Context, cl call) error {
	if c == nil || c.baseURL == "" {
		return errors.New("upstream client not configured")
	}

	if cl.authorized {
		if err := cl.token.Require(); err != nil {
			return err
		}
	}

	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cl.authorized {
		req.Header.Set("Authorization", cl.token.AuthorizationHeader())
	}
	if cl.idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, cl.idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", model.ErrNetwork, cl.method, cl.path, err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return err
	}

	if cl.out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", model.ErrNetwork, cl.path, err)
	}

	return nil
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// classify сопоставляет HTTP-статус с таксономией ошибок клиента.
func classify(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
		return fmt.Errorf("%w: unexpected status: %d", model.ErrNetwork, resp.StatusCode)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &model.ServerRejectedError{
		StatusCode: resp.StatusCode,
		Message:    rejectionMessage(resp.StatusCode, raw),
	}
}

func rejectionMessage(code int, raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		var detail string
		if len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(eb.Detail) > 0 && string(eb.Detail) != "null" {
			return string(eb.Detail)
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(code)
}

// GetVendor запрашивает карточку продавца.
func (c *Client) GetVendor(ctx context.Context, vendorID string) (*model.Vendor, error) {
	var v vendorDTO
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/api/localhub/vendors/" + url.PathEscape(vendorID),
		out:    &v,
	})
	if err != nil {
		return nil, err
	}
	vendor := v.toModel()
	return &vendor, nil
}

// GetProducts запрашивает товары продавца с актуальными остатками.
func (c *Client) GetProducts(ctx context.Context, vendorID string) ([]model.Product, error) {
	var list []productDTO
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/api/localhub/vendors/" + url.PathEscape(vendorID) + "/products",
		out:    &list,
	})
	if err != nil {
		return nil, err
	}

	products := make([]model.Product, 0, len(list))
	for _, p := range list {
		products = append(products, p.toModel())
	}
	return products, nil
}

// GetProduct запрашивает товар с актуальным остатком.
func (c *Client) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p productDTO
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/api/localhub/products/" + url.PathEscape(productID),
		out:    &p,
	})
	if err != nil {
		return nil, err
	}
	product := p.toModel()
	return &product, nil
}

// GetCart возвращает сохранённую корзину пользователя для продавца.
func (c *Client) GetCart(ctx context.Context, token session.Token, vendorID string) ([]model.CartItem, error) {
	var cart cartDTO
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/api/cart",
		query:      url.Values{"vendor_id": {vendorID}},
		token:      token,
		authorized: true,
		out:        &cart,
	})
	if err != nil {
		return nil, err
	}

	items := make([]model.CartItem, 0, len(cart.Items))
	for _, it := range cart.Items {
		if it.Quantity > 0 {
			items = append(items, model.CartItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	return items, nil
}

type cartItemRequest struct {
	VendorID  string `json:"vendor_id,omitempty"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AddItem увеличивает количество товара в сохранённой корзине.
func (c *Client) AddItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	return c.do(ctx, call{
		method:     http.MethodPost,
		path:       "/api/cart/add",
		token:      token,
		authorized: true,
		body:       cartItemRequest{VendorID: vendorID, ProductID: productID, Quantity: qty},
	})
}

// UpdateItem устанавливает количество товара; ноль удаляет позицию.
func (c *Client) UpdateItem(ctx context.Context, token session.Token, vendorID, productID string, qty int) error {
	return c.do(ctx, call{
		method:     http.MethodPut,
		path:       "/api/cart/update",
		token:      token,
		authorized: true,
		body:       cartItemRequest{VendorID: vendorID, ProductID: productID, Quantity: qty},
	})
}

// ClearCart очищает сохранённую корзину продавца.
func (c *Client) ClearCart(ctx context.Context, token session.Token, vendorID string) error {
	return c.do(ctx, call{
		method:     http.MethodDelete,
		path:       "/api/cart/clear",
		query:      url.Values{"vendor_id": {vendorID}},
		token:      token,
		authorized: true,
	})
}

// CreateOrderRequest описывает запрос на создание заказа.
type CreateOrderRequest struct {
	VendorID        string
	Items           []model.CartItem
	DeliveryAddress model.Address
	DeliveryType    model.DeliveryType
	Notes           string
	IdempotencyKey  string
}

// CreateOrder отправляет заказ в сервис заказов.
// Повтор запроса безопасен только с тем же ключом идемпотентности.
func (c *Client) CreateOrder(ctx context.Context, token session.Token, r CreateOrderRequest) (*model.Order, error) {
	body := createOrderDTO{
		VendorID:        r.VendorID,
		DeliveryAddress: r.DeliveryAddress,
		DeliveryType:    string(r.DeliveryType),
		Notes:           r.Notes,
	}
	for _, it := range r.Items {
		body.Items = append(body.Items, cartItemRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	var resp createOrderResponseDTO
	err := c.do(ctx, call{
		method:         http.MethodPost,
		path:           "/api/orders",
		token:          token,
		authorized:     true,
		body:           body,
		idempotencyKey: r.IdempotencyKey,
		out:            &resp,
	})
	if err != nil {
		return nil, err
	}
	if resp.Order.OrderID == "" {
		return nil, fmt.Errorf("%w: create order response without order_id", model.ErrNetwork)
	}

	return resp.Order.toOrder()
}

// GetOrderStatus запрашивает полный снимок состояния заказа.
func (c *Client) GetOrderStatus(ctx context.Context, token session.Token, orderID string) (*model.OrderSnapshot, error) {
	var o orderDTO
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/api/orders/" + url.PathEscape(orderID),
		token:      token,
		authorized: true,
		out:        &o,
	})
	if err != nil {
		return nil, err
	}

	snap, err := o.toSnapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrNetwork, err)
	}
	snap.FetchedAt = time.Now()
	return snap, nil
}

// ListOrders возвращает заказы пользователя.
func (c *Client) ListOrders(ctx context.Context, token session.Token) ([]model.OrderSummary, error) {
	var list []orderDTO
	err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       "/api/orders",
		token:      token,
		authorized: true,
		out:        &list,
	})
	if err != nil {
		return nil, err
	}

	res := make([]model.OrderSummary, 0, len(list))
	for _, o := range list {
		s, err := o.toSummary()
		if err != nil {
			c.logger.Warn("skip order with malformed status", zap.String("order", o.OrderID), zap.Error(err))
			continue
		}
		res = append(res, s)
	}
	return res, nil
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder просит сервис заказов отменить заказ.
func (c *Client) CancelOrder(ctx context.Context, token session.Token, orderID, reason string) error {
	return c.do(ctx, call{
		method:     http.MethodPut,
		path:       "/api/orders/" + url.PathEscape(orderID) + "/cancel",
		token:      token,
		authorized: true,
		body:       cancelRequest{Reason: reason},
	})
}
