package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/localhub-client/internal/model"
	"github.com/mmeshcher/localhub-client/internal/placement"
	"github.com/mmeshcher/localhub-client/internal/tracking"
	"github.com/mmeshcher/localhub-client/internal/validation"
)

type placeOrderRequest struct {
	DeliveryAddress model.Address `json:"delivery_address"`
	DeliveryType    string        `json:"delivery_type"`
	Notes           string        `json:"notes"`
}

type orderItemResponse struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Quantity      int             `json:"quantity"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

type orderResponse struct {
	OrderID           string              `json:"order_id"`
	VendorID          string              `json:"vendor_id"`
	Status            string              `json:"status"`
	Items             []orderItemResponse `json:"items"`
	Subtotal          decimal.Decimal     `json:"subtotal"`
	Tax               decimal.Decimal     `json:"tax"`
	DeliveryFee       decimal.Decimal     `json:"delivery_fee"`
	GrandTotal        decimal.Decimal     `json:"grand_total"`
	DeliveryAddress   model.Address       `json:"delivery_address"`
	DeliveryType      string              `json:"delivery_type"`
	Notes             string              `json:"notes,omitempty"`
	CreatedAt         string              `json:"created_at"`
	EstimatedDelivery string              `json:"estimated_delivery,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// PlaceOrder оформляет заказ из корзины продавца.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req placeOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	addr, err := validation.NormalizeAddress(req.DeliveryAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.placer.PlaceOrder(r.Context(), tokenOf(r), placement.Request{
		VendorID:     vendorID,
		Address:      addr,
		DeliveryType: model.DeliveryType(req.DeliveryType),
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := orderResponse{
		OrderID:           order.ID,
		VendorID:          order.VendorID,
		Status:            string(order.Status),
		Items:             make([]orderItemResponse, 0, len(order.Items)),
		Subtotal:          order.Pricing.Subtotal,
		Tax:               order.Pricing.Tax,
		DeliveryFee:       order.Pricing.DeliveryFee,
		GrandTotal:        order.Pricing.GrandTotal,
		DeliveryAddress:   order.DeliveryAddress,
		DeliveryType:      string(order.DeliveryType),
		Notes:             order.Notes,
		CreatedAt:         formatTime(&order.CreatedAt),
		EstimatedDelivery: formatTime(order.EstimatedDelivery),
	}
	for _, it := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse(it))
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

type orderSummaryResponse struct {
	OrderID    string          `json:"order_id"`
	VendorID   string          `json:"vendor_id,omitempty"`
	VendorName string          `json:"vendor_name,omitempty"`
	Status     string          `json:"status"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	ItemCount  int             `json:"item_count"`
	CreatedAt  string          `json:"created_at"`
}

type ordersResponse struct {
	Active    []orderSummaryResponse `json:"active"`
	Past      []orderSummaryResponse `json:"past"`
	Stale     bool                   `json:"stale"`
	LastError string                 `json:"last_error,omitempty"`
}

func summaries(list []model.OrderSummary) []orderSummaryResponse {
	res := make([]orderSummaryResponse, 0, len(list))
	for _, o := range list {
		res = append(res, orderSummaryResponse{
			OrderID:    o.OrderID,
			VendorID:   o.VendorID,
			VendorName: o.VendorName,
			Status:     string(o.Status),
			GrandTotal: o.GrandTotal,
			ItemCount:  o.ItemCount,
			CreatedAt:  formatTime(&o.CreatedAt),
		})
	}
	return res
}

// GetOrders обновляет список заказов и возвращает его, разделённым на активные и завершённые.
// Если обновить не удалось, возвращается последний известный список с признаком stale.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Refresh(r.Context(), tokenOf(r)); err != nil {
		h.logger.Warn("refresh order list", zap.Error(err))
	}

	p := h.orders.Partition()
	h.writeJSON(w, http.StatusOK, ordersResponse{
		Active:    summaries(p.Active),
		Past:      summaries(p.Past),
		Stale:     p.Stale,
		LastError: p.LastError,
	})
}

type timelineResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message,omitempty"`
}

type orderViewResponse struct {
	OrderID           string             `json:"order_id"`
	Mode              string             `json:"mode"`
	Tracking          bool               `json:"tracking"`
	Stale             bool               `json:"stale"`
	LastError         string             `json:"last_error,omitempty"`
	Status            string             `json:"status,omitempty"`
	Cancellable       bool               `json:"cancellable"`
	Timeline          []timelineResponse `json:"timeline"`
	Agent             *model.Agent       `json:"agent,omitempty"`
	Vendor            *model.VendorRef   `json:"vendor,omitempty"`
	DeliveryType      string             `json:"delivery_type,omitempty"`
	Subtotal          *decimal.Decimal   `json:"subtotal,omitempty"`
	Tax               *decimal.Decimal   `json:"tax,omitempty"`
	DeliveryFee       *decimal.Decimal   `json:"delivery_fee,omitempty"`
	GrandTotal        *decimal.Decimal   `json:"grand_total,omitempty"`
	EstimatedDelivery string             `json:"estimated_delivery,omitempty"`
	FetchedAt         string             `json:"fetched_at,omitempty"`
}

func viewResponse(v tracking.View) orderViewResponse {
	resp := orderViewResponse{
		OrderID:   v.OrderID,
		Mode:      string(v.Mode),
		Tracking:  v.Tracking,
		Stale:     v.Stale,
		LastError: v.LastError,
		Timeline:  []timelineResponse{},
	}

	s := v.Snapshot
	if s == nil {
		return resp
	}

	resp.Status = string(s.Status)
	resp.Cancellable = s.Status.IsCancellable()
	for _, e := range v.Timeline() {
		resp.Timeline = append(resp.Timeline, timelineResponse{
			Status:    string(e.Status),
			Timestamp: formatTime(&e.Timestamp),
			Message:   e.Message,
		})
	}
	resp.Agent = s.Agent
	if s.Vendor.ID != "" || s.Vendor.Name != "" {
		vendor := s.Vendor
		resp.Vendor = &vendor
	}
	resp.DeliveryType = string(s.DeliveryType)
	resp.Subtotal = &s.Subtotal
	resp.Tax = &s.Tax
	resp.DeliveryFee = &s.DeliveryFee
	resp.GrandTotal = &s.GrandTotal
	resp.EstimatedDelivery = formatTime(s.EstimatedDelivery)
	resp.FetchedAt = formatTime(&s.FetchedAt)
	return resp
}

// StartTracking запускает отслеживание заказа для экрана деталей или списка.
func (h *Handler) StartTracking(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	mode, err := tracking.ParseMode(r.URL.Query().Get("view"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.tracker.StartTracking(r.Context(), tokenOf(r), orderID, mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewResponse(v))
}

// StopTracking останавливает отслеживание заказа, например при уходе с экрана.
func (h *Handler) StopTracking(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.tracker.StopTracking(orderID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOrder возвращает последний известный снимок отслеживаемого заказа.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.tracker.View(orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewResponse(v))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ на ранней стадии.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	v, err := h.tracker.Cancel(r.Context(), tokenOf(r), orderID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewResponse(v))
}
