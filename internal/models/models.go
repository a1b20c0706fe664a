package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts either a populated object or a bare id string, since
// the backend returns both shapes depending on the endpoint.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}

	type plain Ref
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Ref(p)
	return nil
}

type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Unit      string          `json:"unit,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Available bool            `json:"available"`
	Vendor    *Ref            `json:"vendor,omitempty"`
	Market    *Ref            `json:"market,omitempty"`
	Category  *Ref            `json:"category,omitempty"`
	Images    []string        `json:"images,omitempty"`
}

// Clone returns a copy that shares no mutable state with p.
func (p Product) Clone() Product {
	out := p
	if p.Vendor != nil {
		v := *p.Vendor
		out.Vendor = &v
	}
	if p.Market != nil {
		m := *p.Market
		out.Market = &m
	}
	if p.Category != nil {
		c := *p.Category
		out.Category = &c
	}
	if p.Images != nil {
		out.Images = append([]string(nil), p.Images...)
	}
	return out
}

type CartItem struct {
	ID       string  `json:"id"`
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Payment struct {
	Method string `json:"method"`
}

type Order struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Status      OrderStatus     `json:"status"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Payment     Payment         `json:"payment"`
	CreatedAt   time.Time       `json:"createdAt"`
	Items       []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type Market struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Region      string `json:"region"`
	Description string `json:"description,omitempty"`
}

type AnalyticsOverview struct {
	TotalOrders    int             `json:"totalOrders"`
	TotalRevenue   decimal.Decimal `json:"totalRevenue"`
	TotalProducts  int             `json:"totalProducts"`
	TotalMarkets   int             `json:"totalMarkets"`
	TotalVendors   int             `json:"totalVendors"`
	OrdersByStatus map[string]int  `json:"ordersByStatus,omitempty"`
}

type OrderStatus string

const (
	OrderStatusNew              OrderStatus = "NEW"
	OrderStatusProcessing       OrderStatus = "PROCESSING"
	OrderStatusPreparing        OrderStatus = "PREPARING"
	OrderStatusReadyForDelivery OrderStatus = "READY_FOR_DELIVERY"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
)

var knownStatuses = map[OrderStatus]bool{
	OrderStatusNew:              true,
	OrderStatusProcessing:       true,
	OrderStatusPreparing:        true,
	OrderStatusReadyForDelivery: true,
	OrderStatusDelivered:        true,
	OrderStatusCompleted:        true,
	OrderStatusCancelled:        true,
}

// ParseOrderStatus normalises a wire string and reports whether it names a
// known status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	return status, knownStatuses[status]
}

func (s OrderStatus) Valid() bool {
	return knownStatuses[s]
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// UnmarshalText keeps unknown values so a single odd order does not fail a
// whole list decode; Valid reports them.
func (s *OrderStatus) UnmarshalText(text []byte) error {
	*s, _ = ParseOrderStatus(string(text))
	return nil
}
