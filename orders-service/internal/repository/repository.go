package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/outbox"
)

var ErrOrderNotFound = errors.New("order not found")

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Tx is the unit of work for one order: everything written through it
// commits or rolls back together.
type Tx interface {
	InsertOrder(ctx context.Context, order *domain.Order) error
	// LockOrder reads the order and holds its row lock until the transaction ends.
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, updatedAt time.Time) error
	InsertIntents(ctx context.Context, intents []*domain.StockIntent) error
	Enqueue(ctx context.Context, env events.Envelope) error
}

type OrderRepository interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID int64) ([]*domain.Order, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	IntentStore
	outbox.Store
	RunMigrations(*Credentials) error
	Close() error
}

// IntentStore hands out stock intents under a lease so that one worker at a
// time performs a given call. An expired lease makes the intent claimable again.
type IntentStore interface {
	// ClaimIntent leases one pending intent. It reports false when the intent
	// is finished or another worker holds it.
	ClaimIntent(ctx context.Context, id int64, lease time.Duration) (bool, error)
	// ClaimPendingIntents leases up to limit pending intents with no live lease.
	ClaimPendingIntents(ctx context.Context, limit int, lease time.Duration) ([]*domain.StockIntent, error)
	// UpdateIntent records the outcome of a claimed intent and drops its lease.
	UpdateIntent(ctx context.Context, intent *domain.StockIntent) error
}
