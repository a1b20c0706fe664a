// Package checkout turns the cart into a backend order.
package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/safar/go-storefront/internal/backend"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrEmptyCart = errors.New("cart is empty")

type Cart interface {
	Items() []models.CartItem
	RemoveSubmitted(items []models.CartItem)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (models.Order, error)
}

type OrderTracker interface {
	Track(order models.Order)
}

type Request struct {
	PaymentMethod   string `json:"paymentMethod"`
	DeliveryAddress string `json:"deliveryAddress"`
	Notes           string `json:"notes"`
}

type Service struct {
	cart    Cart
	orders  OrderCreator
	tracker OrderTracker
	log     *zap.Logger
}

func NewService(cart Cart, orders OrderCreator, tracker OrderTracker, logger *zap.Logger) *Service {
	return &Service{cart: cart, orders: orders, tracker: tracker, log: logger}
}

// Submit places an order for the current cart. Once the backend has created
// the order the submitted lines leave the cart; anything added while the
// request was in flight stays.
func (s *Service) Submit(ctx context.Context, req Request) (models.Order, error) {
	items := s.cart.Items()
	if len(items) == 0 {
		return models.Order{}, ErrEmptyCart
	}

	lines := make([]backend.OrderLine, 0, len(items))
	subtotal := decimal.Zero
	for _, item := range items {
		lines = append(lines, backend.OrderLine{ProductID: item.Product.ID, Quantity: item.Quantity})
		subtotal = subtotal.Add(item.LineTotal())
	}

	order, err := s.orders.CreateOrder(ctx, backend.CreateOrderRequest{
		Items:           lines,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Notes:           strings.TrimSpace(req.Notes),
		Subtotal:        subtotal,
	})
	if err != nil {
		s.log.Warn("checkout failed", zap.Int("lines", len(lines)), zap.Error(err))
		return models.Order{}, err
	}

	s.tracker.Track(order)
	s.cart.RemoveSubmitted(items)

	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("lines", len(lines)),
	)

	return order, nil
}
