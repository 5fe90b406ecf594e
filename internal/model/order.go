package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает этап выполнения заказа.
type OrderStatus string

const (
	StatusPlaced         OrderStatus = "placed"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusAwaitingPickup OrderStatus = "awaiting_pickup"
	StatusPickedUp       OrderStatus = "picked_up"
	StatusOnTheWay       OrderStatus = "on_the_way"
	StatusNearby         OrderStatus = "nearby"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
)

// statusRank задаёт порядок этапов; cancelled вне порядка.
var statusRank = map[OrderStatus]int{
	StatusPlaced:         1,
	StatusConfirmed:      2,
	StatusPreparing:      3,
	StatusReady:          4,
	StatusAwaitingPickup: 5,
	StatusPickedUp:       6,
	StatusOnTheWay:       7,
	StatusNearby:         8,
	StatusDelivered:      9,
}

// ParseOrderStatus разбирает статус из ответа сервиса заказов.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if st == StatusCancelled {
		return st, nil
	}
	if _, ok := statusRank[st]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// IsTerminal сообщает, что статус конечный и опрос больше не нужен.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// IsCancellable сообщает, что заказ ещё можно отменить.
func (s OrderStatus) IsCancellable() bool {
	return s == StatusPlaced || s == StatusConfirmed
}

// Before сообщает, что статус s предшествует other в цепочке выполнения.
// Для cancelled порядок не определён.
func (s OrderStatus) Before(other OrderStatus) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[other]
	return okA && okB && a < b
}

// OrderItem описывает позицию заказа с ценой, зафиксированной при оформлении.
type OrderItem struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Quantity      int             `json:"quantity"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

// Order описывает оформленный заказ. После создания клиент его не меняет.
type Order struct {
	ID                string
	VendorID          string
	Items             []OrderItem
	Pricing           PricingBreakdown
	DeliveryAddress   Address
	DeliveryType      DeliveryType
	Notes             string
	Status            OrderStatus
	IdempotencyKey    string
	CreatedAt         time.Time
	EstimatedDelivery *time.Time
}

// TimelineEvent описывает один переход статуса заказа.
type TimelineEvent struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message,omitempty"`
}

// GeoPoint описывает координаты курьера.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Agent описывает курьера, назначенного на заказ.
type Agent struct {
	ID       string    `json:"id,omitempty"`
	Name     string    `json:"name"`
	Phone    string    `json:"phone,omitempty"`
	Location *GeoPoint `json:"location,omitempty"`
}

// VendorRef содержит денормализованные данные продавца в ответе о статусе.
type VendorRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// OrderSnapshot содержит полное текущее состояние заказа, полученное одним запросом.
type OrderSnapshot struct {
	OrderID           string
	Status            OrderStatus
	Timeline          []TimelineEvent
	Agent             *Agent
	Vendor            VendorRef
	DeliveryType      DeliveryType
	Subtotal          decimal.Decimal
	Tax               decimal.Decimal
	DeliveryFee       decimal.Decimal
	GrandTotal        decimal.Decimal
	EstimatedDelivery *time.Time
	CreatedAt         time.Time
	FetchedAt         time.Time
}

// Clone возвращает независимую копию снимка.
func (s OrderSnapshot) Clone() OrderSnapshot {
	tl := make([]TimelineEvent, len(s.Timeline))
	copy(tl, s.Timeline)
	s.Timeline = tl
	if s.Agent != nil {
		a := *s.Agent
		if a.Location != nil {
			loc := *a.Location
			a.Location = &loc
		}
		s.Agent = &a
	}
	return s
}

// DisplayTimeline возвращает копию истории, отсортированную от новых событий к старым.
// Порядок элементов в ответе сервера не гарантирован.
func (s OrderSnapshot) DisplayTimeline() []TimelineEvent {
	tl := make([]TimelineEvent, len(s.Timeline))
	copy(tl, s.Timeline)
	sort.SliceStable(tl, func(i, j int) bool {
		return tl[i].Timestamp.After(tl[j].Timestamp)
	})
	return tl
}

// OrderSummary описывает строку списка заказов.
type OrderSummary struct {
	OrderID    string
	VendorID   string
	VendorName string
	Status     OrderStatus
	GrandTotal decimal.Decimal
	ItemCount  int
	CreatedAt  time.Time
}

// IsActive сообщает, что заказ ещё выполняется.
func (o OrderSummary) IsActive() bool {
	return !o.Status.IsTerminal()
}
