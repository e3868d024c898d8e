package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/inventory"
	"github.com/fjod/go_fulfillment/orders-service/internal/repository"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"go.uber.org/zap"
)

// IntentApplier performs recorded stock calls against the inventory service.
// A failed call never fails the order operation that recorded it. Every call
// is made under a lease on its intent, and the lease must outlive the call.
type IntentApplier struct {
	inventory   inventory.Gateway
	store       repository.IntentStore
	metrics     *metrics.IntentMetrics
	logger      *zap.Logger
	maxAttempts int
	lease       time.Duration
}

func NewIntentApplier(gw inventory.Gateway, store repository.IntentStore, m *metrics.IntentMetrics, l *zap.Logger,
	maxAttempts int, lease time.Duration) *IntentApplier {
	return &IntentApplier{
		inventory:   gw,
		store:       store,
		metrics:     m,
		logger:      l,
		maxAttempts: maxAttempts,
		lease:       lease,
	}
}

// Apply attempts every intent it can claim once and returns how many are now
// done. Intents held by the poller are left to it.
func (a *IntentApplier) Apply(ctx context.Context, intents []*domain.StockIntent) int {
	done := 0
	for _, in := range intents {
		claimed, err := a.store.ClaimIntent(ctx, in.ID, a.lease)
		if err != nil {
			a.logger.Warn("failed to claim stock intent, leaving it to the poller",
				zap.Int64("intent_id", in.ID), zap.Error(err))
			continue
		}
		if !claimed {
			a.logger.Debug("stock intent claimed elsewhere", zap.Int64("intent_id", in.ID))
			continue
		}
		if a.apply(ctx, in) {
			done++
		}
	}
	return done
}

func (a *IntentApplier) apply(ctx context.Context, in *domain.StockIntent) bool {
	var err error
	switch in.Kind {
	case domain.IntentReserve:
		err = a.inventory.ReserveStock(ctx, in.ProductID, in.Quantity)
	case domain.IntentRestore:
		err = a.inventory.RestoreStock(ctx, in.ProductID, in.Quantity)
	}
	in.Attempts++

	log := a.logger.With(
		zap.Int64("intent_id", in.ID),
		zap.Int64("order_id", in.OrderID),
		zap.Int64("product_id", in.ProductID),
		zap.Int("quantity", in.Quantity),
		zap.String("kind", string(in.Kind)),
		zap.Int("attempts", in.Attempts),
	)

	if err == nil {
		in.Status = domain.IntentDone
		in.LastError = ""
	} else {
		in.LastError = err.Error()
		a.metrics.Failures.WithLabelValues(string(in.Kind)).Inc()
		// rejections are final
		if errors.Is(err, inventory.ErrStockRejected) || errors.Is(err, inventory.ErrProductNotFound) || in.Attempts >= a.maxAttempts {
			in.Status = domain.IntentFailed
			a.metrics.Abandoned.WithLabelValues(string(in.Kind)).Inc()
			log.Error("stock intent abandoned, inventory needs reconciling", zap.Error(err))
		} else {
			log.Warn("stock intent failed, will retry", zap.Error(err))
		}
	}

	if uerr := a.store.UpdateIntent(ctx, in); uerr != nil {
		log.Error("failed to record stock intent outcome", zap.Error(uerr))
	}
	return in.Status == domain.IntentDone
}

// IntentPoller replays pending intents. The wait between rounds grows while
// rounds keep failing and resets once a round leaves nothing behind.
type IntentPoller struct {
	store   repository.IntentStore
	applier *IntentApplier
	logger  *zap.Logger
	backoff backoff.BackOff
	tick    time.Duration
	batch   int
}

func NewIntentPoller(store repository.IntentStore, applier *IntentApplier, l *zap.Logger, tick time.Duration) *IntentPoller {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = tick
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	return &IntentPoller{
		store:   store,
		applier: applier,
		logger:  l,
		backoff: b,
		tick:    tick,
		batch:   100,
	}
}

func (p *IntentPoller) Run(ctx context.Context) {
	timer := time.NewTimer(p.tick)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			wait := p.tick
			if p.replay(ctx) > 0 {
				wait = p.backoff.NextBackOff()
			} else {
				p.backoff.Reset()
			}
			timer.Reset(wait)
		case <-ctx.Done():
			return
		}
	}
}

// replay claims one batch of pending intents, applies it and returns how many
// are still pending afterwards.
func (p *IntentPoller) replay(ctx context.Context) int {
	intents, err := p.store.ClaimPendingIntents(ctx, p.batch, p.applier.lease)
	if err != nil {
		p.logger.Error("failed to fetch pending stock intents", zap.Error(err))
		return 1
	}

	pending := 0
	for _, in := range intents {
		p.applier.apply(ctx, in)
		if in.Status == domain.IntentPending {
			pending++
		}
	}
	if len(intents) > 0 {
		p.logger.Info("replayed stock intents", zap.Int("count", len(intents)), zap.Int("still_pending", pending))
	}
	return pending
}
