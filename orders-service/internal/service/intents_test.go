package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntentPoller_ReplaysPendingRestores(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	order := f.createOrder(t)
	f.gw.setRestoreErr(inventory.ErrUnavailable)
	_, err := f.svc.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Empty(t, f.gw.Restored())

	f.gw.setRestoreErr(nil)
	poller := NewIntentPoller(f.repo, f.applier, zap.NewNop(), time.Second)
	pending := poller.replay(context.Background())

	assert.Zero(t, pending)
	assert.Equal(t, []stockCall{{1, 2}, {2, 3}}, f.gw.Restored())
	for _, in := range f.repo.Intents() {
		assert.Equal(t, domain.IntentDone, in.Status)
	}
}

func TestIntentPoller_AbandonsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	f.gw.ReserveErr = inventory.ErrUnavailable
	f.createOrder(t)

	poller := NewIntentPoller(f.repo, f.applier, zap.NewNop(), time.Second)
	assert.Equal(t, 2, poller.replay(context.Background()))
	assert.Equal(t, 0, poller.replay(context.Background()))

	for _, in := range f.repo.Intents() {
		assert.Equal(t, domain.IntentFailed, in.Status)
		assert.Equal(t, 3, in.Attempts)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Abandoned.WithLabelValues("RESERVE")))

	assert.Empty(t, f.repo.pendingIntents())
}

func TestIntentApplier_RejectedIsFinal(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	f.gw.ReserveErr = inventory.ErrStockRejected

	f.createOrder(t)

	for _, in := range f.repo.Intents() {
		assert.Equal(t, domain.IntentFailed, in.Status)
		assert.Equal(t, 1, in.Attempts)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Abandoned.WithLabelValues("RESERVE")))
}

func TestIntentPoller_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	poller := NewIntentPoller(f.repo, f.applier, zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

// replayingGateway runs a poller round from inside the first stock call, as a
// poller tick or a second replica would while an order is still applying.
type replayingGateway struct {
	*MockGateway
	poller *IntentPoller
	armed  atomic.Bool
}

func (g *replayingGateway) fire(ctx context.Context) {
	if g.armed.CompareAndSwap(true, false) {
		g.poller.replay(ctx)
	}
}

func (g *replayingGateway) ReserveStock(ctx context.Context, productID int64, quantity int) error {
	g.fire(ctx)
	return g.MockGateway.ReserveStock(ctx, productID, quantity)
}

func (g *replayingGateway) RestoreStock(ctx context.Context, productID int64, quantity int) error {
	g.fire(ctx)
	return g.MockGateway.RestoreStock(ctx, productID, quantity)
}

func newReplayingFixture(t *testing.T) (*fixture, *replayingGateway) {
	t.Helper()
	f := newFixture(t, Options{Concurrency: 4})
	gw := &replayingGateway{MockGateway: f.gw}
	applier := NewIntentApplier(gw, f.repo, f.metrics, zap.NewNop(), 3, time.Minute)
	gw.poller = NewIntentPoller(f.repo, applier, zap.NewNop(), time.Second)
	f.svc = NewOrderService(f.repo, gw, applier, zap.NewNop(), Options{Concurrency: 4})
	f.applier = applier
	return f, gw
}

func TestCancelOrder_ConcurrentReplayRestoresOncePerItem(t *testing.T) {
	f, gw := newReplayingFixture(t)
	order := f.createOrder(t)
	gw.armed.Store(true)

	_, err := f.svc.CancelOrder(context.Background(), order.ID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []stockCall{{1, 2}, {2, 3}}, f.gw.Restored())
	assert.Empty(t, f.repo.pendingIntents())
}

func TestCreateOrder_ConcurrentReplayReservesOncePerItem(t *testing.T) {
	f, gw := newReplayingFixture(t)
	gw.armed.Store(true)

	f.createOrder(t)

	assert.ElementsMatch(t, []stockCall{{1, 2}, {2, 3}}, f.gw.Reserved())
	for _, in := range f.repo.Intents() {
		assert.Equal(t, domain.IntentDone, in.Status)
	}
}

func TestIntentApplier_SkipsLeasedIntent(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 4})
	f.gw.ReserveErr = inventory.ErrUnavailable
	f.createOrder(t)
	f.gw.ReserveErr = nil

	claimed, err := f.repo.ClaimPendingIntents(context.Background(), 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	done := f.applier.Apply(context.Background(), f.repo.Intents())

	assert.Equal(t, 1, done)
	assert.Len(t, f.gw.Reserved(), 1)
	assert.Len(t, f.repo.pendingIntents(), 1)
}
