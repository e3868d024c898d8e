package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
	"github.com/fjod/go_fulfillment/payment-service/internal/repository"
	"github.com/fjod/go_fulfillment/payment-service/internal/settlement"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"go.uber.org/zap"
)

const reasonTimedOut = "settlement timed out"

type PaymentService interface {
	ProcessPayment(ctx context.Context, req *domain.ProcessPaymentRequest) (*domain.Payment, error)
	RefundPayment(ctx context.Context, id int64) (*domain.Payment, error)
	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID int64) (*domain.Payment, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]*domain.Payment, error)
	GetPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error)
}

type PaymentServiceImpl struct {
	repo     repository.PaymentRepository
	strategy settlement.Strategy
	timeout  time.Duration
	metrics  *metrics.PaymentMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentService builds the workflow. timeout bounds every settlement call;
// m may be nil.
func NewPaymentService(repo repository.PaymentRepository, strategy settlement.Strategy, timeout time.Duration,
	m *metrics.PaymentMetrics, l *zap.Logger) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		repo:     repo,
		strategy: strategy,
		timeout:  timeout,
		metrics:  m,
		logger:   l,
		now:      time.Now,
	}
}

func (s *PaymentServiceImpl) ProcessPayment(ctx context.Context, req *domain.ProcessPaymentRequest) (*domain.Payment, error) {
	if err := validateProcess(req); err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.logger)

	existing, err := s.repo.GetPaymentByOrderID(ctx, req.OrderID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: order %d already has payment %d", ErrDuplicatePayment, req.OrderID, existing.ID)
	case !errors.Is(err, repository.ErrPaymentNotFound):
		return nil, fmt.Errorf("failed to check existing payment: %w", err)
	}

	payment := &domain.Payment{
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.PaymentStatusProcessing,
	}
	// The unique order id constraint still catches a concurrent submission.
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	log.Info("processing payment",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("order_id", payment.OrderID),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("card_last4", req.Card.Last4()))

	// The row is already PROCESSING; a caller that goes away must not strand it.
	result := s.settle(context.WithoutCancel(ctx), payment, s.strategy.Charge)

	var processed *domain.Payment
	err = s.repo.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if result.Approved {
			p.Status = domain.PaymentStatusCompleted
			p.PaymentReference = domain.NewPaymentReference()
		} else {
			p.Status = domain.PaymentStatusFailed
			p.FailureReason = result.Reason
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		processed = p
		return tx.Enqueue(ctx, events.NewPaymentProcessed(p.ID, p.OrderID, p.UserID, p.Amount,
			p.Status.String(), p.PaymentReference, s.now()))
	})
	if err != nil {
		log.Error("settlement not recorded, payment left PROCESSING",
			zap.Int64("payment_id", payment.ID),
			zap.Int64("order_id", payment.OrderID),
			zap.Bool("approved", result.Approved),
			zap.String("reason", result.Reason),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.Stranded.Inc()
		}
		return nil, fmt.Errorf("failed to record settlement of payment %d: %w", payment.ID, err)
	}

	if processed.Status == domain.PaymentStatusCompleted {
		log.Info("payment completed",
			zap.Int64("payment_id", processed.ID),
			zap.String("payment_reference", processed.PaymentReference))
	} else {
		log.Warn("payment failed",
			zap.Int64("payment_id", processed.ID),
			zap.String("reason", processed.FailureReason))
	}
	return processed, nil
}

// settle runs one settlement call under the configured timeout. Processor
// errors are reported as refusals.
func (s *PaymentServiceImpl) settle(ctx context.Context, p *domain.Payment,
	call func(context.Context, *domain.Payment) (settlement.Result, error)) settlement.Result {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := call(ctx, p)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return settlement.Result{Reason: reasonTimedOut}
	case err != nil:
		return settlement.Result{Reason: fmt.Sprintf("settlement unavailable: %v", err)}
	case !result.Approved && result.Reason == "":
		result.Reason = "declined"
	}
	return result
}

func (s *PaymentServiceImpl) RefundPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	var refunded *domain.Payment
	// A settled refund is recorded even when the caller goes away.
	err := s.repo.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		if !p.Status.Refundable() {
			return fmt.Errorf("%w: payment %d is %s", ErrInvalidState, id, p.Status)
		}

		result := s.settle(ctx, p, s.strategy.Refund)
		if !result.Approved {
			return fmt.Errorf("%w: %s", ErrRefundFailed, result.Reason)
		}

		p.Status = domain.PaymentStatusRefunded
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		refunded = p
		return tx.Enqueue(ctx, events.NewPaymentRefunded(p.ID, p.OrderID, p.UserID, p.Amount, p.PaymentReference, s.now()))
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.logger).Info("payment refunded",
		zap.Int64("payment_id", refunded.ID),
		zap.Int64("order_id", refunded.OrderID))
	return refunded, nil
}

func validateProcess(req *domain.ProcessPaymentRequest) error {
	if req.OrderID <= 0 {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if req.UserID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return fmt.Errorf("%w: payment method is required", ErrInvalidRequest)
	}
	return nil
}

func (s *PaymentServiceImpl) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	return s.repo.GetPaymentByID(ctx, id)
}

func (s *PaymentServiceImpl) GetPaymentByOrder(ctx context.Context, orderID int64) (*domain.Payment, error) {
	return s.repo.GetPaymentByOrderID(ctx, orderID)
}

func (s *PaymentServiceImpl) GetPaymentsByUser(ctx context.Context, userID int64) ([]*domain.Payment, error) {
	return s.repo.ListPaymentsByUserID(ctx, userID)
}

func (s *PaymentServiceImpl) GetPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	return s.repo.ListPaymentsByStatus(ctx, status)
}
