package orders

import (
	"context"
	"errors"
	"sync"

	"github.com/safar/go-storefront/internal/models"
	"go.uber.org/zap"
)

var ErrOrderNotTracked = errors.New("order not tracked")

// StatusUpdater is the backend call behind a transition. A nil order with a
// nil error means the backend accepted the change without echoing the order.
type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error)
}

// Controller holds the operator's local view of orders. The backend owns
// the orders; the view only changes after the backend confirms.
type Controller struct {
	backend StatusUpdater
	log     *zap.Logger

	mu     sync.RWMutex
	orders map[string]models.Order
	order  []string
}

func NewController(backend StatusUpdater, logger *zap.Logger) *Controller {
	return &Controller{
		backend: backend,
		log:     logger,
		orders:  make(map[string]models.Order),
	}
}

// Track adds or refreshes a single order view.
func (c *Controller) Track(order models.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.putLocked(order)
}

// Replace swaps the whole view for a freshly listed set of orders.
func (c *Controller) Replace(orders []models.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.orders = make(map[string]models.Order, len(orders))
	c.order = c.order[:0]
	for _, o := range orders {
		c.putLocked(o)
	}
}

func (c *Controller) Order(id string) (models.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.orders[id]
	return o, ok
}

func (c *Controller) Orders() []models.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Order, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.orders[id])
	}
	return out
}

// Options lists the statuses the order can move to next.
func (c *Controller) Options(id string) ([]models.OrderStatus, error) {
	o, ok := c.Order(id)
	if !ok {
		return nil, ErrOrderNotTracked
	}
	return Next(o.Status), nil
}

// Transition asks the backend to move the order to target. Illegal edges are
// rejected locally without a request. Backend errors are returned as is and
// leave the view untouched.
func (c *Controller) Transition(ctx context.Context, orderID string, target models.OrderStatus) (models.Order, error) {
	current, ok := c.Order(orderID)
	if !ok {
		return models.Order{}, ErrOrderNotTracked
	}

	if err := Validate(current.Status, target); err != nil {
		c.log.Info("order transition rejected",
			zap.String("order_id", orderID),
			zap.Stringer("from", current.Status),
			zap.Stringer("to", target),
		)
		return current, err
	}

	updated, err := c.backend.UpdateOrderStatus(ctx, orderID, target)
	if err != nil {
		c.log.Warn("update order status",
			zap.String("order_id", orderID),
			zap.Stringer("to", target),
			zap.Error(err),
		)
		return current, err
	}

	next := current
	if updated != nil {
		next = *updated
		if next.ID == "" {
			next.ID = orderID
		}
	} else {
		next.Status = target
	}

	c.mu.Lock()
	c.putLocked(next)
	c.mu.Unlock()

	c.log.Info("order status updated",
		zap.String("order_id", orderID),
		zap.Stringer("from", current.Status),
		zap.Stringer("to", next.Status),
	)

	return next, nil
}

func (c *Controller) putLocked(o models.Order) {
	if o.ID == "" {
		return
	}
	if _, ok := c.orders[o.ID]; !ok {
		c.order = append(c.order, o.ID)
	}
	c.orders[o.ID] = o
}
