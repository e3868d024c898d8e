package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// resolveItems checks availability and prices every requested line against
// the inventory service. Lookups run concurrently up to s.concurrency; the
// first failure cancels the rest. Results keep the request order.
func (s *OrderServiceImpl) resolveItems(ctx context.Context, reqs []domain.ItemRequest) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			item, err := s.resolveItem(gctx, req)
			if err != nil {
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *OrderServiceImpl) resolveItem(ctx context.Context, req domain.ItemRequest) (domain.OrderItem, error) {
	ok, err := s.inventory.CheckAvailability(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return domain.OrderItem{}, inventoryError(req, err)
	}
	if !ok {
		return domain.OrderItem{}, &InventoryUnavailableError{ProductID: req.ProductID, Quantity: req.Quantity, Reason: "insufficient stock"}
	}

	info, err := s.inventory.GetProductInfo(ctx, req.ProductID)
	if err != nil {
		return domain.OrderItem{}, inventoryError(req, err)
	}

	return domain.OrderItem{
		ProductID:   req.ProductID,
		ProductName: info.Name,
		Quantity:    req.Quantity,
		Price:       info.Price,
		Subtotal:    info.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
	}, nil
}

func inventoryError(req domain.ItemRequest, err error) error {
	switch {
	case errors.Is(err, inventory.ErrProductNotFound):
		return &InventoryUnavailableError{ProductID: req.ProductID, Quantity: req.Quantity, Reason: "product not found"}
	case errors.Is(err, inventory.ErrStockRejected):
		return &InventoryUnavailableError{ProductID: req.ProductID, Quantity: req.Quantity, Reason: err.Error()}
	default:
		return fmt.Errorf("%w: product %d: %v", ErrDownstreamUnavailable, req.ProductID, err)
	}
}
