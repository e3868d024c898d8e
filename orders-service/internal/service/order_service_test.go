package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc     *OrderServiceImpl
	repo    *MockRepository
	gw      *MockGateway
	metrics *metrics.IntentMetrics
	applier *IntentApplier
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := NewMockRepository()
	gw := NewMockGateway()
	m := metrics.NewIntentMetrics(prometheus.NewRegistry(), "test")
	applier := NewIntentApplier(gw, repo, m, zap.NewNop(), 3, time.Minute)
	return &fixture{
		svc:     NewOrderService(repo, gw, applier, zap.NewNop(), opts),
		repo:    repo,
		gw:      gw,
		metrics: m,
		applier: applier,
	}
}

func createRequest(items ...domain.ItemRequest) *domain.CreateOrderRequest {
	return &domain.CreateOrderRequest{
		UserID:          42,
		ShippingAddress: "1 Main St",
		PaymentMethod:   "CARD",
		Items:           items,
	}
}

func (f *fixture) createOrder(t *testing.T) *domain.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), createRequest(
		domain.ItemRequest{ProductID: 1, Quantity: 2},
		domain.ItemRequest{ProductID: 2, Quantity: 3},
	))
	require.NoError(t, err)
	return order
}

func TestCreateOrder_TotalsFromInventoryPrices(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	order := f.createOrder(t)

	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(1), order.Items[0].ProductID)
	assert.Equal(t, "product-1", order.Items[0].ProductName)
	assert.True(t, order.Items[0].Subtotal.Equal(decimal.RequireFromString("1999.98")))
	assert.True(t, order.Items[1].Subtotal.Equal(decimal.RequireFromString("58.50")))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("2058.48")))
	assert.Equal(t, domain.OrderStatusPending, order.Status)

	stored, err := f.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(domain.Total(stored.Items)))
}

func TestCreateOrder_PublishesOrderCreated(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	order := f.createOrder(t)

	evts := f.repo.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeOrderCreated, evts[0].Type())
	assert.Equal(t, fmt.Sprint(order.ID), evts[0][events.FieldOrderID])
	assert.Equal(t, "42", evts[0][events.FieldUserID])
	assert.Equal(t, "2058.48", evts[0][events.FieldTotalAmount])
	assert.Equal(t, "PENDING", evts[0][events.FieldStatus])
	assert.NotEmpty(t, evts[0].ID())
}

func TestCreateOrder_ReservesEveryItem(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	f.createOrder(t)

	assert.Equal(t, []stockCall{{1, 2}, {2, 3}}, f.gw.Reserved())
	for _, in := range f.repo.Intents() {
		assert.Equal(t, domain.IntentReserve, in.Kind)
		assert.Equal(t, domain.IntentDone, in.Status)
	}
}

func TestCreateOrder_UnavailableItem(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	_, err := f.svc.CreateOrder(context.Background(), createRequest(
		domain.ItemRequest{ProductID: 1, Quantity: 1},
		domain.ItemRequest{ProductID: 3, Quantity: 1},
	))

	require.ErrorIs(t, err, ErrInventoryUnavailable)
	var unavailable *InventoryUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, int64(3), unavailable.ProductID)

	assert.Zero(t, f.repo.OrderCount())
	assert.Empty(t, f.repo.Events())
	assert.Empty(t, f.gw.Reserved())
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	_, err := f.svc.CreateOrder(context.Background(), createRequest(domain.ItemRequest{ProductID: 99, Quantity: 1}))

	assert.ErrorIs(t, err, ErrInventoryUnavailable)
	assert.Zero(t, f.repo.OrderCount())
}

func TestCreateOrder_InventoryDown(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	f.gw.CheckErr = inventory.ErrUnavailable

	_, err := f.svc.CreateOrder(context.Background(), createRequest(domain.ItemRequest{ProductID: 1, Quantity: 1}))

	assert.ErrorIs(t, err, ErrDownstreamUnavailable)
	assert.Zero(t, f.repo.OrderCount())
	assert.Empty(t, f.repo.Events())
}

func TestCreateOrder_InvalidRequest(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	ctx := context.Background()

	tests := []struct {
		name string
		req  *domain.CreateOrderRequest
	}{
		{"no items", createRequest()},
		{"zero quantity", createRequest(domain.ItemRequest{ProductID: 1, Quantity: 0})},
		{"no user", &domain.CreateOrderRequest{ShippingAddress: "x", Items: []domain.ItemRequest{{ProductID: 1, Quantity: 1}}}},
		{"no address", &domain.CreateOrderRequest{UserID: 1, Items: []domain.ItemRequest{{ProductID: 1, Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, f.repo.OrderCount())
}

func TestCreateOrder_ReserveFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	f.gw.ReserveErr = inventory.ErrUnavailable

	order := f.createOrder(t)

	assert.NotZero(t, order.ID)
	require.Len(t, f.repo.Events(), 1)
	for _, in := range f.repo.Intents() {
		assert.Equal(t, domain.IntentPending, in.Status)
		assert.Equal(t, 1, in.Attempts)
		assert.NotEmpty(t, in.LastError)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Failures.WithLabelValues("RESERVE")))
}

func TestCreateOrder_SaveFailure(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	f.repo.TxErr = errBoom

	_, err := f.svc.CreateOrder(context.Background(), createRequest(domain.ItemRequest{ProductID: 1, Quantity: 1}))

	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.gw.Reserved())
}

func TestCreateOrder_FanOutIsBounded(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 2})
	f.gw.CheckDelay = 20 * time.Millisecond

	var items []domain.ItemRequest
	for i := 0; i < 6; i++ {
		items = append(items, domain.ItemRequest{ProductID: int64(i%2 + 1), Quantity: 1})
	}
	order, err := f.svc.CreateOrder(context.Background(), createRequest(items...))

	require.NoError(t, err)
	assert.LessOrEqual(t, f.gw.MaxInFlight(), 2)
	for i, item := range order.Items {
		assert.Equal(t, items[i].ProductID, item.ProductID, "items keep request order")
	}
}

func TestCancelOrder_Pending(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, []stockCall{{1, 2}, {2, 3}}, f.gw.Restored())

	evts := f.repo.Events()
	require.Len(t, evts, 2)
	assert.Equal(t, events.TypeOrderCancelled, evts[1].Type())
	assert.Equal(t, "2058.48", evts[1][events.FieldTotalAmount])
}

func TestCancelOrder_Shipped(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4, Permissive: true})
	order := f.createOrder(t)
	_, err := f.svc.UpdateStatus(context.Background(), order.ID, domain.OrderStatusShipped)
	require.NoError(t, err)
	before := len(f.repo.Events())

	_, err = f.svc.CancelOrder(context.Background(), order.ID)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, f.gw.Restored())
	assert.Len(t, f.repo.Events(), before)

	stored, _ := f.repo.GetOrderByID(context.Background(), order.ID)
	assert.Equal(t, domain.OrderStatusShipped, stored.Status)
}

func TestCancelOrder_NotFound(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	_, err := f.svc.CancelOrder(context.Background(), 404)

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelOrder_RestoreFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)
	f.gw.setRestoreErr(inventory.ErrUnavailable)

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Failures.WithLabelValues("RESTORE")))
}

func TestUpdateStatus_FollowsLifecycle(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)
	ctx := context.Background()

	for _, next := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		updated, err := f.svc.UpdateStatus(ctx, order.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	evts := f.repo.Events()
	last := evts[len(evts)-1]
	assert.Equal(t, events.TypeOrderStatusChanged, last.Type())
	assert.Equal(t, "SHIPPED", last[events.FieldOldStatus])
	assert.Equal(t, "DELIVERED", last[events.FieldNewStatus])
}

func TestUpdateStatus_RejectsIllegalTransition(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)
	ctx := context.Background()

	_, err := f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusDelivered)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.OrderStatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Len(t, f.repo.Events(), 1)
	stored, _ := f.repo.GetOrderByID(ctx, order.ID)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
}

func TestUpdateStatus_Permissive(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4, Permissive: true})
	order := f.createOrder(t)

	updated, err := f.svc.UpdateStatus(context.Background(), order.ID, domain.OrderStatusDelivered)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, updated.Status)
}

func TestUpdateStatus_CancelRestoresStock(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)

	_, err := f.svc.UpdateStatus(context.Background(), order.ID, domain.OrderStatusCancelled)

	require.NoError(t, err)
	assert.Len(t, f.gw.Restored(), 2)
	evts := f.repo.Events()
	require.Len(t, evts, 3)
	assert.Equal(t, events.TypeOrderStatusChanged, evts[1].Type())
	assert.Equal(t, events.TypeOrderCancelled, evts[2].Type())
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})

	_, err := f.svc.UpdateStatus(context.Background(), 404, domain.OrderStatusConfirmed)

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetOrders(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)
	ctx := context.Background()

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	byUser, err := f.svc.GetOrdersByUser(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	byStatus, err := f.svc.GetOrdersByStatus(ctx, domain.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Empty(t, byStatus)
}
