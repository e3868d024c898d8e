package service

import (
	"errors"
	"fmt"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/repository"
)

var (
	ErrOrderNotFound         = repository.ErrOrderNotFound
	ErrInvalidRequest        = errors.New("invalid order request")
	ErrInventoryUnavailable  = errors.New("inventory unavailable")
	ErrInvalidTransition     = errors.New("illegal transition of order status")
	ErrDownstreamUnavailable = errors.New("downstream service unavailable")
)

// InventoryUnavailableError names the line item that could not be satisfied.
type InventoryUnavailableError struct {
	ProductID int64
	Quantity  int
	Reason    string
}

func (e *InventoryUnavailableError) Error() string {
	return fmt.Sprintf("product %d unavailable in quantity %d: %s", e.ProductID, e.Quantity, e.Reason)
}

func (e *InventoryUnavailableError) Is(target error) bool {
	return target == ErrInventoryUnavailable
}

type TransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
