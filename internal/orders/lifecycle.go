// Package orders holds the order status machine and the controller that
// asks the backend to move orders through it.
package orders

import (
	"fmt"

	"github.com/safar/go-storefront/internal/models"
)

var (
	statusNew        = models.OrderStatusNew
	statusProcessing = models.OrderStatusProcessing
	statusPreparing  = models.OrderStatusPreparing
	statusReady      = models.OrderStatusReadyForDelivery
	statusDelivered  = models.OrderStatusDelivered
	statusCompleted  = models.OrderStatusCompleted
	statusCancelled  = models.OrderStatusCancelled
)

// Progression is the forward order of the non-cancelled statuses.
var Progression = []models.OrderStatus{
	statusNew,
	statusProcessing,
	statusPreparing,
	statusReady,
	statusDelivered,
	statusCompleted,
}

// validNext lists every legal edge. Forward moves may skip steps; any
// non-terminal status may be cancelled.
var validNext = map[models.OrderStatus]map[models.OrderStatus]bool{
	statusNew: {
		statusProcessing: true, statusPreparing: true, statusReady: true,
		statusDelivered: true, statusCompleted: true, statusCancelled: true,
	},
	statusProcessing: {
		statusPreparing: true, statusReady: true, statusDelivered: true,
		statusCompleted: true, statusCancelled: true,
	},
	statusPreparing: {
		statusReady: true, statusDelivered: true, statusCompleted: true,
		statusCancelled: true,
	},
	statusReady: {
		statusDelivered: true, statusCompleted: true, statusCancelled: true,
	},
	statusDelivered: {
		statusCompleted: true, statusCancelled: true,
	},
	statusCompleted: {},
	statusCancelled: {},
}

func CanTransition(from, to models.OrderStatus) bool {
	return validNext[from][to]
}

// Next returns the statuses reachable from from, in display order.
func Next(from models.OrderStatus) []models.OrderStatus {
	edges := validNext[from]
	if len(edges) == 0 {
		return nil
	}

	out := make([]models.OrderStatus, 0, len(edges))
	for _, s := range Progression {
		if edges[s] {
			out = append(out, s)
		}
	}
	if edges[statusCancelled] {
		out = append(out, statusCancelled)
	}
	return out
}

type TransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *TransitionError) Error() string {
	switch {
	case !e.To.Valid():
		return fmt.Sprintf("unknown order status %q", e.To)
	case !e.From.Valid():
		return fmt.Sprintf("order has unknown status %q", e.From)
	case e.From.IsTerminal():
		return fmt.Sprintf("order is %s and can no longer change status", e.From)
	default:
		return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
	}
}

func Validate(from, to models.OrderStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
