package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/localhub-client/internal/model"
)

type cartItemResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	Stock     int             `json:"stock"`
}

type pricingResponse struct {
	DeliveryType    string          `json:"delivery_type"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	Tax             decimal.Decimal `json:"tax"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	MissingProducts []string        `json:"missing_products,omitempty"`
}

type cartResponse struct {
	VendorID       string             `json:"vendor_id"`
	VendorName     string             `json:"vendor_name,omitempty"`
	HasOwnDelivery bool               `json:"has_own_delivery"`
	Revision       uint64             `json:"revision"`
	Items          []cartItemResponse `json:"items"`
	Pricing        *pricingResponse   `json:"pricing,omitempty"`
}

func (h *Handler) cartResponse(c model.Cart) cartResponse {
	products := h.carts.Products(c.VendorID)
	resp := cartResponse{
		VendorID: c.VendorID,
		Revision: c.Revision,
		Items:    make([]cartItemResponse, 0, len(c.Items)),
	}
	for _, it := range c.Items {
		p := products[it.ProductID]
		price := p.EffectivePrice()
		resp.Items = append(resp.Items, cartItemResponse{
			ProductID: it.ProductID,
			Name:      p.Name,
			UnitPrice: price,
			Quantity:  it.Quantity,
			LineTotal: price.Mul(decimal.NewFromInt(int64(it.Quantity))),
			Stock:     p.Stock,
		})
	}
	return resp
}

// GetCarts возвращает число товаров в корзине каждого продавца.
func (h *Handler) GetCarts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"carts": h.carts.Carts()})
}

// GetCart загружает корзину продавца и рассчитывает её стоимость для выбранного способа доставки.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	deliveryType := model.DeliveryAgent
	if v := r.URL.Query().Get("delivery_type"); v != "" {
		deliveryType = model.DeliveryType(v)
		if !deliveryType.Valid() {
			h.writeError(w, r, model.Validationf("unknown delivery type %q", v))
			return
		}
	}

	c, err := h.carts.Load(r.Context(), tokenOf(r), vendorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	vendor, err := h.carts.Vendor(r.Context(), vendorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	b := h.carts.Breakdown(vendorID, deliveryType, *vendor)
	resp := h.cartResponse(c)
	resp.VendorName = vendor.Name
	resp.HasOwnDelivery = vendor.HasOwnDelivery
	resp.Pricing = &pricingResponse{
		DeliveryType:    string(deliveryType),
		Subtotal:        b.Subtotal,
		TaxRate:         b.TaxRate,
		Tax:             b.Tax,
		DeliveryFee:     b.DeliveryFee,
		GrandTotal:      b.GrandTotal,
		MissingProducts: b.MissingProducts,
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AddItem добавляет товар в корзину продавца.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := addItemRequest{Quantity: 1}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.ProductID == "" {
		h.writeError(w, r, model.Validationf("product_id is required"))
		return
	}

	if err := h.carts.Add(r.Context(), tokenOf(r), vendorID, req.ProductID, req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartResponse(h.carts.Cart(vendorID)))
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// SetQuantity задаёт количество товара в корзине. Ноль удаляет позицию.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req setQuantityRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Quantity == nil {
		h.writeError(w, r, model.Validationf("quantity is required"))
		return
	}

	if err := h.carts.SetQuantity(r.Context(), tokenOf(r), productID, *req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveItem удаляет товар из корзины.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.carts.Remove(r.Context(), tokenOf(r), productID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart очищает корзину продавца.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "vendorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.carts.Clear(r.Context(), tokenOf(r), vendorID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
