package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/outbox"
)

var (
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrDuplicatePayment = errors.New("payment already exists for order")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Tx is the unit of work for one payment row.
type Tx interface {
	LockPayment(ctx context.Context, id int64) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, p *domain.Payment) error
	Enqueue(ctx context.Context, env events.Envelope) error
}

type PaymentRepository interface {
	// CreatePayment returns ErrDuplicatePayment when the order already has one.
	CreatePayment(ctx context.Context, p *domain.Payment) error
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetPaymentByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error)
	ListPaymentsByUserID(ctx context.Context, userID int64) ([]*domain.Payment, error)
	ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error)
	outbox.Store
	RunMigrations(*Credentials) error
	Close()
}
