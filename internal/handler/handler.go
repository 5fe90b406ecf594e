// Package handler содержит HTTP-обработчики локального API, через которое интерфейс работает с корзиной и заказами.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/orderlist"
	"github.com/mmeshcher/localhub-client/internal/placement"
	"github.com/mmeshcher/localhub-client/internal/session"
	"github.com/mmeshcher/localhub-client/internal/tracking"
	"github.com/mmeshcher/localhub-client/internal/validation"
)

// Carts определяет операции с корзинами, используемые обработчиками.
type Carts interface {
	Load(ctx context.Context, token session.Token, vendorID string) (model.Cart, error)
	Add(ctx context.Context, token session.Token, vendorID, productID string, qty int) error
	SetQuantity(ctx context.Context, token session.Token, productID string, qty int) error
	Remove(ctx context.Context, token session.Token, productID string) error
	Clear(ctx context.Context, token session.Token, vendorID string) error
	Cart(vendorID string) model.Cart
	Carts() map[string]int
	Products(vendorID string) map[string]model.Product
	Breakdown(vendorID string, deliveryType model.DeliveryType, vendor model.Vendor) model.PricingBreakdown
	Vendor(ctx context.Context, vendorID string) (*model.Vendor, error)
}

// Placer оформляет заказы.
type Placer interface {
	PlaceOrder(ctx context.Context, token session.Token, req placement.Request) (*model.Order, error)
}

// Tracker отслеживает статусы заказов.
type Tracker interface {
	StartTracking(ctx context.Context, token session.Token, orderID string, mode tracking.Mode) (tracking.View, error)
	StopTracking(orderID string) error
	View(orderID string) (tracking.View, error)
	Cancel(ctx context.Context, token session.Token, orderID, reason string) (tracking.View, error)
}

// OrderList поддерживает список заказов.
type OrderList interface {
	Refresh(ctx context.Context, token session.Token) error
	Partition() orderlist.Partition
}

// Handler реализует HTTP-обработчики локального API.
type Handler struct {
	carts   Carts
	placer  Placer
	tracker Tracker
	orders  OrderList
	logger  *zap.Logger
	origins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(carts Carts, placer Placer, tracker Tracker, orders OrderList, logger *zap.Logger, allowedOrigins []string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		carts:   carts,
		placer:  placer,
		tracker: tracker,
		orders:  orders,
		logger:  logger,
		origins: allowedOrigins,
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	MaxAllowed *int   `json:"max_allowed,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// writeError переводит ошибку ядра в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stock    *model.InsufficientStockError
		rejected *model.ServerRejectedError
	)

	switch {
	case errors.As(err, &stock):
		maxAllowed := stock.MaxAllowed
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), MaxAllowed: &maxAllowed})
	case errors.As(err, &rejected):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: rejected.Message})
	case errors.Is(err, model.ErrValidation):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNoSession):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrVendorMismatch), errors.Is(err, model.ErrNotCancellable):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotTracked), errors.Is(err, model.ErrProductNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNetwork):
		h.logger.Warn("upstream unavailable", zap.String("uri", r.RequestURI), zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("request failed", zap.String("uri", r.RequestURI), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.Validationf("malformed request body: %v", err)
	}
	return nil
}

// pathID читает идентификатор из пути запроса и проверяет его формат.
func pathID(r *http.Request, name string) (string, error) {
	id := chi.URLParam(r, name)
	if !validation.IsValidID(id) {
		return "", model.Validationf("invalid %s %q", name, id)
	}
	return id, nil
}

func tokenOf(r *http.Request) session.Token {
	t, _ := session.FromContext(r.Context())
	return t
}
