// Package model содержит доменные сущности клиента заказов LocalHub.
package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Vendor описывает продавца (магазин) из каталога.
type Vendor struct {
	ID             string
	Name           string
	Category       string
	Address        string
	ContactPhone   string
	Rating         float64
	HasOwnDelivery bool
	IsVerified     bool
}

// Product описывает товар продавца.
type Product struct {
	ID              string
	VendorID        string
	Name            string
	Price           decimal.Decimal
	DiscountedPrice *decimal.Decimal
	Stock           int
	IsAvailable     bool
}

// EffectivePrice возвращает цену со скидкой, если она задана и ниже обычной.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountedPrice != nil && p.DiscountedPrice.LessThan(p.Price) {
		return *p.DiscountedPrice
	}
	return p.Price
}

// CartItem описывает позицию корзины.
type CartItem struct {
	ProductID string
	Quantity  int
}

// Cart содержит корзину пользователя для одного продавца.
type Cart struct {
	VendorID string
	Items    []CartItem
	// Revision увеличивается при каждой успешной мутации корзины.
	Revision uint64
}

// TotalQuantity возвращает суммарное количество товаров в корзине.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}

// Clone возвращает независимую копию корзины.
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	c.Items = items
	return c
}

// DeliveryType описывает способ доставки заказа.
type DeliveryType string

const (
	DeliveryShop  DeliveryType = "shop_delivery"
	DeliveryAgent DeliveryType = "agent_delivery"
)

// Valid сообщает, известен ли способ доставки.
func (d DeliveryType) Valid() bool {
	return d == DeliveryShop || d == DeliveryAgent
}

// Address описывает адрес доставки.
type Address struct {
	Label string   `json:"label,omitempty"`
	Line  string   `json:"address"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

// IsBlank сообщает, что адрес не заполнен.
func (a Address) IsBlank() bool {
	return strings.TrimSpace(a.Line) == ""
}

// PricingBreakdown содержит расчёт стоимости корзины. Никогда не хранится, только вычисляется.
type PricingBreakdown struct {
	Subtotal    decimal.Decimal
	TaxRate     decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	GrandTotal  decimal.Decimal
	// MissingProducts перечисляет позиции, для которых не нашлось товара в каталоге.
	MissingProducts []string
}
