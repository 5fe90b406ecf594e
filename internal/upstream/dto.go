package upstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/localhub-client/internal/model"
)

// wireTime разбирает даты сервиса: RFC3339 или ISO без зоны (считается UTC).
type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse time %q", s)
}

func (t *wireTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

type locationDTO struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

type vendorDTO struct {
	VendorID       string      `json:"vendor_id"`
	Name           string      `json:"name"`
	Category       string      `json:"category"`
	Location       locationDTO `json:"location"`
	ContactPhone   string      `json:"contact_phone"`
	Rating         float64     `json:"rating"`
	HasOwnDelivery bool        `json:"has_own_delivery"`
	IsVerified     bool        `json:"is_verified"`
}

func (v vendorDTO) toModel() model.Vendor {
	return model.Vendor{
		ID:             v.VendorID,
		Name:           v.Name,
		Category:       v.Category,
		Address:        v.Location.Address,
		ContactPhone:   v.ContactPhone,
		Rating:         v.Rating,
		HasOwnDelivery: v.HasOwnDelivery,
		IsVerified:     v.IsVerified,
	}
}

type productDTO struct {
	ProductID       string           `json:"product_id"`
	VendorID        string           `json:"vendor_id"`
	Name            string           `json:"name"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price"`
	Stock           int              `json:"stock"`
	IsAvailable     *bool            `json:"is_available"`
}

func (p productDTO) toModel() model.Product {
	available := true
	if p.IsAvailable != nil {
		available = *p.IsAvailable
	}
	stock := p.Stock
	if stock < 0 {
		stock = 0
	}
	return model.Product{
		ID:              p.ProductID,
		VendorID:        p.VendorID,
		Name:            p.Name,
		Price:           p.Price,
		DiscountedPrice: p.DiscountedPrice,
		Stock:           stock,
		IsAvailable:     available,
	}
}

type cartDTO struct {
	VendorID string `json:"vendor_id"`
	Items    []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

type createOrderDTO struct {
	VendorID        string            `json:"vendor_id"`
	Items           []cartItemRequest `json:"items,omitempty"`
	DeliveryAddress model.Address     `json:"delivery_address"`
	DeliveryType    string            `json:"delivery_type"`
	Notes           string            `json:"notes,omitempty"`
}

type createOrderResponseDTO struct {
	Message string   `json:"message"`
	Order   orderDTO `json:"order"`
}

type orderItemDTO struct {
	ProductID     string           `json:"product_id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"original_price"`
	Quantity      int              `json:"quantity"`
	Total         decimal.Decimal  `json:"total"`
}

type timelineDTO struct {
	Status    string   `json:"status"`
	Timestamp wireTime `json:"timestamp"`
	Message   string   `json:"message"`
}

type orderDTO struct {
	OrderID           string          `json:"order_id"`
	VendorID          string          `json:"vendor_id"`
	VendorName        string          `json:"vendor_name"`
	VendorPhone       string          `json:"vendor_phone"`
	VendorAddress     string          `json:"vendor_address"`
	Items             []orderItemDTO  `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	DeliveryAddress   json.RawMessage `json:"delivery_address"`
	DeliveryType      string          `json:"delivery_type"`
	AssignedAgentID   string          `json:"assigned_agent_id"`
	AgentName         string          `json:"agent_name"`
	AgentPhone        string          `json:"agent_phone"`
	AgentLocation     *model.GeoPoint `json:"agent_location"`
	Status            string          `json:"status"`
	StatusHistory     []timelineDTO   `json:"status_history"`
	EstimatedDelivery *wireTime       `json:"estimated_delivery"`
	Notes             string          `json:"notes"`
	CreatedAt         wireTime        `json:"created_at"`
}

// address разбирает адрес доставки: объект или строку.
func (o orderDTO) address() model.Address {
	var a model.Address
	if len(o.DeliveryAddress) == 0 {
		return a
	}
	if err := json.Unmarshal(o.DeliveryAddress, &a); err == nil {
		return a
	}
	var line string
	if err := json.Unmarshal(o.DeliveryAddress, &line); err == nil {
		a.Line = line
	}
	return a
}

func (o orderDTO) agent() *model.Agent {
	if o.AgentName == "" && o.AssignedAgentID == "" && o.AgentLocation == nil {
		return nil
	}
	return &model.Agent{
		ID:       o.AssignedAgentID,
		Name:     o.AgentName,
		Phone:    o.AgentPhone,
		Location: o.AgentLocation,
	}
}

func (o orderDTO) timeline() ([]model.TimelineEvent, error) {
	tl := make([]model.TimelineEvent, 0, len(o.StatusHistory))
	for _, ev := range o.StatusHistory {
		st, err := model.ParseOrderStatus(ev.Status)
		if err != nil {
			return nil, err
		}
		tl = append(tl, model.TimelineEvent{Status: st, Timestamp: ev.Timestamp.Time, Message: ev.Message})
	}
	return tl, nil
}

func (o orderDTO) toSnapshot() (*model.OrderSnapshot, error) {
	st, err := model.ParseOrderStatus(o.Status)
	if err != nil {
		return nil, err
	}
	tl, err := o.timeline()
	if err != nil {
		return nil, err
	}

	return &model.OrderSnapshot{
		OrderID:  o.OrderID,
		Status:   st,
		Timeline: tl,
		Agent:    o.agent(),
		Vendor: model.VendorRef{
			ID:      o.VendorID,
			Name:    o.VendorName,
			Phone:   o.VendorPhone,
			Address: o.VendorAddress,
		},
		DeliveryType:      model.DeliveryType(o.DeliveryType),
		Subtotal:          o.Subtotal,
		Tax:               o.TaxAmount,
		DeliveryFee:       o.DeliveryFee,
		GrandTotal:        o.GrandTotal,
		EstimatedDelivery: o.EstimatedDelivery.ptr(),
		CreatedAt:         o.CreatedAt.Time,
	}, nil
}

func (o orderDTO) toSummary() (model.OrderSummary, error) {
	st, err := model.ParseOrderStatus(o.Status)
	if err != nil {
		return model.OrderSummary{}, err
	}
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return model.OrderSummary{
		OrderID:    o.OrderID,
		VendorID:   o.VendorID,
		VendorName: o.VendorName,
		Status:     st,
		GrandTotal: o.GrandTotal,
		ItemCount:  count,
		CreatedAt:  o.CreatedAt.Time,
	}, nil
}

func (o orderDTO) toOrder() (*model.Order, error) {
	st, err := model.ParseOrderStatus(o.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrNetwork, err)
	}

	items := make([]model.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		original := it.Price
		if it.OriginalPrice != nil {
			original = *it.OriginalPrice
		}
		items = append(items, model.OrderItem{
			ProductID:     it.ProductID,
			Name:          it.Name,
			UnitPrice:     it.Price,
			OriginalPrice: original,
			Quantity:      it.Quantity,
			LineTotal:     it.Total,
		})
	}

	return &model.Order{
		ID:       o.OrderID,
		VendorID: o.VendorID,
		Items:    items,
		Pricing: model.PricingBreakdown{
			Subtotal:    o.Subtotal,
			TaxRate:     o.TaxRate,
			Tax:         o.TaxAmount,
			DeliveryFee: o.DeliveryFee,
			GrandTotal:  o.GrandTotal,
		},
		DeliveryAddress:   o.address(),
		DeliveryType:      model.DeliveryType(o.DeliveryType),
		Notes:             o.Notes,
		Status:            st,
		CreatedAt:         o.CreatedAt.Time,
		EstimatedDelivery: o.EstimatedDelivery.ptr(),
	}, nil
}
