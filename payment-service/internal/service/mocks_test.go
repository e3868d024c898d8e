package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
	"github.com/fjod/go_fulfillment/payment-service/internal/repository"
	"github.com/fjod/go_fulfillment/payment-service/internal/settlement"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/outbox"
)

var errBoom = errors.New("boom")

// MockRepository keeps payments and outbox rows in memory and enforces one
// payment per order like the unique constraint does.
type MockRepository struct {
	mu        sync.Mutex
	nextID    int64
	payments  map[int64]*domain.Payment
	outbox    []events.Envelope
	CreateErr error
	LookupErr error
	CommitErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{payments: map[int64]*domain.Payment{}}
}

func (m *MockRepository) CreatePayment(_ context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	for _, existing := range m.payments {
		if existing.OrderID == p.OrderID {
			return repository.ErrDuplicatePayment
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

type mockTx struct {
	repo     *MockRepository
	payments map[int64]*domain.Payment
	outbox   []events.Envelope
}

func (m *MockRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &mockTx{repo: m, payments: map[int64]*domain.Payment{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.CommitErr != nil {
		return m.CommitErr
	}
	for id, p := range tx.payments {
		m.payments[id] = p
	}
	m.outbox = append(m.outbox, tx.outbox...)
	return nil
}

func (t *mockTx) LockPayment(_ context.Context, id int64) (*domain.Payment, error) {
	p, ok := t.repo.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

// Writes fail on a done context the way a database driver does.
func (t *mockTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.repo.payments[p.ID]; !ok {
		return repository.ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	t.payments[p.ID] = &cp
	return nil
}

func (t *mockTx) Enqueue(ctx context.Context, env events.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.outbox = append(t.outbox, env)
	return nil
}

func (m *MockRepository) GetPaymentByID(_ context.Context, id int64) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return p, nil
}

func (m *MockRepository) GetPaymentByOrderID(_ context.Context, orderID int64) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	for _, p := range m.payments {
		if p.OrderID == orderID {
			return p, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (m *MockRepository) ListPaymentsByUserID(_ context.Context, userID int64) ([]*domain.Payment, error) {
	return m.filter(func(p *domain.Payment) bool { return p.UserID == userID }), nil
}

func (m *MockRepository) ListPaymentsByStatus(_ context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	return m.filter(func(p *domain.Payment) bool { return p.Status == status }), nil
}

func (m *MockRepository) filter(keep func(*domain.Payment) bool) []*domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockRepository) FetchUnpublished(context.Context, int) ([]*outbox.Message, error) {
	return nil, nil
}

func (m *MockRepository) MarkPublished(context.Context, int64) error {
	return nil
}

func (m *MockRepository) RunMigrations(*repository.Credentials) error {
	return nil
}

func (m *MockRepository) Close() {}

func (m *MockRepository) Events() []events.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Envelope(nil), m.outbox...)
}

func (m *MockRepository) PaymentsForOrder(orderID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.OrderID == orderID {
			n++
		}
	}
	return n
}

// MockStrategy blocks until ctx is done when Hang is set.
type MockStrategy struct {
	settlement.Fixed
	Hang     bool
	OnCharge func()
	OnRefund func()

	mu      sync.Mutex
	charges int
	refunds int
}

func (m *MockStrategy) Charge(ctx context.Context, p *domain.Payment) (settlement.Result, error) {
	m.mu.Lock()
	m.charges++
	m.mu.Unlock()
	if m.OnCharge != nil {
		m.OnCharge()
	}
	if ctx.Err() != nil {
		return settlement.Result{}, ctx.Err()
	}
	if m.Hang {
		<-ctx.Done()
		return settlement.Result{}, ctx.Err()
	}
	return m.Fixed.Charge(ctx, p)
}

func (m *MockStrategy) Refund(ctx context.Context, p *domain.Payment) (settlement.Result, error) {
	m.mu.Lock()
	m.refunds++
	m.mu.Unlock()
	if m.OnRefund != nil {
		m.OnRefund()
	}
	if ctx.Err() != nil {
		return settlement.Result{}, ctx.Err()
	}
	return m.Fixed.Refund(ctx, p)
}

func (m *MockStrategy) Calls() (charges, refunds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charges, m.refunds
}
