package outbox

import (
	"context"
	"time"

	"github.com/fjod/go_fulfillment/pkg/events"
	"go.uber.org/zap"
)

// Message is an envelope stored in the same transaction as the state change
// that produced it.
type Message struct {
	ID        int64
	Envelope  events.Envelope
	CreatedAt time.Time
}

type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64) error
}

type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Poller relays stored envelopes to the broker in insertion order.
type Poller struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	tick      time.Duration
	batch     int
}

func NewPoller(store Store, publisher Publisher, l *zap.Logger) *Poller {
	return &Poller{
		store:     store,
		publisher: publisher,
		logger:    l,
		tick:      time.Second,
		batch:     100,
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublished(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublished stops at the first publish failure so later messages
// never overtake an earlier one.
func (p *Poller) processUnpublished(ctx context.Context) int {
	msgs, err := p.store.FetchUnpublished(ctx, p.batch)
	if err != nil {
		p.logger.Error("failed to fetch outbox messages", zap.Error(err))
		return 0
	}

	published := 0
	for _, m := range msgs {
		if err := p.publisher.Publish(ctx, m.Envelope); err != nil {
			p.logger.Warn("failed to publish outbox message",
				zap.Int64("outbox_id", m.ID), zap.String("event_type", string(m.Envelope.Type())), zap.Error(err))
			return published
		}
		if err := p.store.MarkPublished(ctx, m.ID); err != nil {
			p.logger.Error("failed to mark outbox message as published", zap.Int64("outbox_id", m.ID), zap.Error(err))
			return published
		}
		published++
	}
	return published
}
