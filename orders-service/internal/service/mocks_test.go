package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/fjod/go_fulfillment/orders-service/internal/repository"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/outbox"
	"github.com/shopspring/decimal"
)

// MockRepository keeps orders, intents and outbox rows in memory. Writes made
// inside InTx only become visible when fn returns nil.
type MockRepository struct {
	mu      sync.Mutex
	nextID  int64
	orders  map[int64]*domain.Order
	intents []*domain.StockIntent
	outbox  []events.Envelope
	TxErr   error
	updates []*domain.StockIntent
	leases  map[int64]time.Time
}

func NewMockRepository() *MockRepository {
	return &MockRepository{orders: map[int64]*domain.Order{}, leases: map[int64]time.Time{}}
}

type mockTx struct {
	repo    *MockRepository
	orders  map[int64]*domain.Order
	intents []*domain.StockIntent
	outbox  []events.Envelope
}

func (m *MockRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TxErr != nil {
		return m.TxErr
	}

	tx := &mockTx{repo: m, orders: map[int64]*domain.Order{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, o := range tx.orders {
		m.orders[id] = o
	}
	m.intents = append(m.intents, tx.intents...)
	m.outbox = append(m.outbox, tx.outbox...)
	return nil
}

func (t *mockTx) InsertOrder(_ context.Context, order *domain.Order) error {
	t.repo.nextID++
	order.ID = t.repo.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	t.orders[order.ID] = &cp
	return nil
}

func (t *mockTx) LockOrder(_ context.Context, id int64) (*domain.Order, error) {
	o, ok := t.repo.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *mockTx) UpdateOrderStatus(_ context.Context, id int64, status domain.OrderStatus, updatedAt time.Time) error {
	o, ok := t.repo.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	cp := *o
	cp.Status = status
	cp.UpdatedAt = updatedAt
	t.orders[id] = &cp
	return nil
}

func (t *mockTx) InsertIntents(_ context.Context, intents []*domain.StockIntent) error {
	for _, in := range intents {
		in.ID = int64(len(t.repo.intents) + len(t.intents) + 1)
		t.intents = append(t.intents, in)
	}
	return nil
}

func (t *mockTx) Enqueue(_ context.Context, env events.Envelope) error {
	t.outbox = append(t.outbox, env)
	return nil
}

func (m *MockRepository) GetOrderByID(_ context.Context, id int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (m *MockRepository) ListOrdersByUserID(_ context.Context, userID int64) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockRepository) ListOrdersByStatus(_ context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockRepository) claimable(in *domain.StockIntent, now time.Time) bool {
	return in.Status == domain.IntentPending && !now.Before(m.leases[in.ID])
}

func (m *MockRepository) ClaimIntent(_ context.Context, id int64, lease time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, in := range m.intents {
		if in.ID == id && m.claimable(in, now) {
			m.leases[id] = now.Add(lease)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) ClaimPendingIntents(_ context.Context, limit int, lease time.Duration) ([]*domain.StockIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*domain.StockIntent
	for _, in := range m.intents {
		if m.claimable(in, now) && len(out) < limit {
			m.leases[in.ID] = now.Add(lease)
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *MockRepository) UpdateIntent(_ context.Context, in *domain.StockIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, in.ID)
	cp := *in
	m.updates = append(m.updates, &cp)
	return nil
}

func (m *MockRepository) pendingIntents() []*domain.StockIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StockIntent
	for _, in := range m.intents {
		if in.Status == domain.IntentPending {
			out = append(out, in)
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

func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) Events() []events.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Envelope(nil), m.outbox...)
}

func (m *MockRepository) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *MockRepository) Intents() []*domain.StockIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.StockIntent(nil), m.intents...)
}

type stockCall struct {
	ProductID int64
	Quantity  int
}

// MockGateway serves a fixed catalog and records stock calls.
type MockGateway struct {
	mu          sync.Mutex
	Stock       map[int64]int
	Prices      map[int64]string
	CheckErr    error
	ReserveErr  error
	RestoreErr  error
	CheckDelay  time.Duration
	reserved    []stockCall
	restored    []stockCall
	inFlight    int
	maxInFlight int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Stock:  map[int64]int{1: 10, 2: 5, 3: 0},
		Prices: map[int64]string{1: "999.99", 2: "19.50", 3: "5.00"},
	}
}

func (g *MockGateway) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	delay, checkErr := g.CheckDelay, g.CheckErr
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if checkErr != nil {
		return false, checkErr
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	stock, ok := g.Stock[productID]
	if !ok {
		return false, inventory.ErrProductNotFound
	}
	return stock >= quantity, nil
}

func (g *MockGateway) GetProductInfo(_ context.Context, productID int64) (*inventory.ProductInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.Prices[productID]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return &inventory.ProductInfo{
		ID:            productID,
		Name:          "product-" + strconv.FormatInt(productID, 10),
		Price:         decimal.RequireFromString(price),
		StockQuantity: g.Stock[productID],
	}, nil
}

func (g *MockGateway) ReserveStock(_ context.Context, productID int64, quantity int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReserveErr != nil {
		return g.ReserveErr
	}
	g.reserved = append(g.reserved, stockCall{productID, quantity})
	return nil
}

func (g *MockGateway) RestoreStock(_ context.Context, productID int64, quantity int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RestoreErr != nil {
		return g.RestoreErr
	}
	g.restored = append(g.restored, stockCall{productID, quantity})
	return nil
}

func (g *MockGateway) Reserved() []stockCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]stockCall(nil), g.reserved...)
}

func (g *MockGateway) Restored() []stockCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]stockCall(nil), g.restored...)
}

func (g *MockGateway) MaxInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxInFlight
}

func (g *MockGateway) setRestoreErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.RestoreErr = err
}

var errBoom = errors.New("boom")
