package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/fjod/go_fulfillment/orders-service/internal/repository"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req *domain.CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	GetOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error)
	CancelOrder(ctx context.Context, id int64) (*domain.Order, error)
}

type Options struct {
	// Concurrency bounds parallel inventory lookups per order.
	Concurrency int
	// Permissive lets UpdateStatus overwrite any status.
	Permissive bool
}

type OrderServiceImpl struct {
	repo        repository.OrderRepository
	inventory   inventory.Gateway
	intents     *IntentApplier
	logger      *zap.Logger
	concurrency int
	permissive  bool
	now         func() time.Time
}

func NewOrderService(repo repository.OrderRepository, gw inventory.Gateway, intents *IntentApplier, l *zap.Logger, opts Options) *OrderServiceImpl {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &OrderServiceImpl{
		repo:        repo,
		inventory:   gw,
		intents:     intents,
		logger:      l,
		concurrency: opts.Concurrency,
		permissive:  opts.Permissive,
		now:         time.Now,
	}
}

func (s *OrderServiceImpl) CreateOrder(ctx context.Context, req *domain.CreateOrderRequest) (*domain.Order, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		UserID:          req.UserID,
		Items:           items,
		TotalAmount:     domain.Total(items),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		Status:          domain.OrderStatusPending,
	}

	var reserve []*domain.StockIntent
	err = s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		reserve = domain.NewIntents(order.ID, domain.IntentReserve, order.Items)
		if err := tx.InsertIntents(ctx, reserve); err != nil {
			return err
		}
		return tx.Enqueue(ctx, events.NewOrderCreated(order.ID, order.UserID, order.TotalAmount, order.Status.String(), s.now()))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save order: %w", err)
	}

	logger.WithContext(ctx, s.logger).Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)))

	s.intents.Apply(context.WithoutCancel(ctx), reserve)
	return order, nil
}

func validateCreate(req *domain.CreateOrderRequest) error {
	if req.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrInvalidRequest)
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidRequest)
	}
	for _, item := range req.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return fmt.Errorf("%w: invalid item product=%d quantity=%d", ErrInvalidRequest, item.ProductID, item.Quantity)
		}
	}
	return nil
}

func (s *OrderServiceImpl) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

func (s *OrderServiceImpl) GetOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	return s.repo.ListOrdersByUserID(ctx, userID)
}

func (s *OrderServiceImpl) GetOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return s.repo.ListOrdersByStatus(ctx, status)
}

// UpdateStatus moves an order along the lifecycle. Moving to CANCELLED from
// a cancellable status also hands the stock back.
func (s *OrderServiceImpl) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (*domain.Order, error) {
	var restore []*domain.StockIntent
	var oldStatus domain.OrderStatus

	order, err := s.mutate(ctx, id, func(ctx context.Context, tx repository.Tx, order *domain.Order) error {
		oldStatus = order.Status
		if !s.permissive && !oldStatus.CanTransitionTo(status) {
			return &TransitionError{From: oldStatus, To: status}
		}
		if err := s.setStatus(ctx, tx, order, status); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, events.NewOrderStatusChanged(order.ID, order.UserID, oldStatus.String(), status.String(), order.UpdatedAt)); err != nil {
			return err
		}
		if status == domain.OrderStatusCancelled && oldStatus.Cancellable() {
			var err error
			restore, err = s.recordCancellation(ctx, tx, order)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.logger).Info("order status updated",
		zap.Int64("order_id", id),
		zap.String("old_status", oldStatus.String()),
		zap.String("new_status", status.String()))

	s.intents.Apply(context.WithoutCancel(ctx), restore)
	return order, nil
}

func (s *OrderServiceImpl) CancelOrder(ctx context.Context, id int64) (*domain.Order, error) {
	var restore []*domain.StockIntent

	order, err := s.mutate(ctx, id, func(ctx context.Context, tx repository.Tx, order *domain.Order) error {
		if !order.Status.Cancellable() {
			return &TransitionError{From: order.Status, To: domain.OrderStatusCancelled}
		}
		if err := s.setStatus(ctx, tx, order, domain.OrderStatusCancelled); err != nil {
			return err
		}
		var err error
		restore, err = s.recordCancellation(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.logger).Info("order cancelled", zap.Int64("order_id", id))

	s.intents.Apply(context.WithoutCancel(ctx), restore)
	return order, nil
}

// mutate runs fn against the locked order row.
func (s *OrderServiceImpl) mutate(ctx context.Context, id int64, fn func(ctx context.Context, tx repository.Tx, order *domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderServiceImpl) setStatus(ctx context.Context, tx repository.Tx, order *domain.Order, status domain.OrderStatus) error {
	order.Status = status
	order.UpdatedAt = s.now()
	return tx.UpdateOrderStatus(ctx, order.ID, status, order.UpdatedAt)
}

func (s *OrderServiceImpl) recordCancellation(ctx context.Context, tx repository.Tx, order *domain.Order) ([]*domain.StockIntent, error) {
	restore := domain.NewIntents(order.ID, domain.IntentRestore, order.Items)
	if err := tx.InsertIntents(ctx, restore); err != nil {
		return nil, err
	}
	if err := tx.Enqueue(ctx, events.NewOrderCancelled(order.ID, order.UserID, order.TotalAmount, order.UpdatedAt)); err != nil {
		return nil, err
	}
	return restore, nil
}
