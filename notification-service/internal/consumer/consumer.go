package consumer

import (
	"context"
	"sync"

	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/messaging"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"go.uber.org/zap"
)

// Consumer runs one subscriber per routing key, each on its own durable queue.
type Consumer struct {
	subscribers []*messaging.Subscriber
	deadLetter  messaging.Writer
	logger      *zap.Logger
}

// NewConsumer subscribes h to routes. newReader opens the queue of one route.
func NewConsumer(routes []events.Route, newReader func(events.Route) messaging.Reader, deadLetter messaging.Writer,
	h messaging.Handler, m *metrics.EventMetrics, l *zap.Logger) *Consumer {
	c := &Consumer{deadLetter: deadLetter, logger: l}
	for _, route := range routes {
		c.subscribers = append(c.subscribers, messaging.NewSubscriber(route, newReader(route), deadLetter, h, m, l))
	}
	return c
}

// NewKafkaConsumer subscribes h to every route of the contract.
func NewKafkaConsumer(h messaging.Handler, m *metrics.EventMetrics, l *zap.Logger, brokers ...string) *Consumer {
	newReader := func(route events.Route) messaging.Reader {
		return messaging.NewReader(route, brokers...)
	}
	return NewConsumer(events.Routes, newReader, messaging.NewWriter(brokers...), h, m, l)
}

// Run blocks until ctx is cancelled and every subscriber has returned.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range c.subscribers {
		wg.Add(1)
		go func(s *messaging.Subscriber) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	wg.Wait()
}

func (c *Consumer) Close() {
	for _, s := range c.subscribers {
		s.Close()
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil {
			c.logger.Error("error closing dead-letter writer", zap.Error(err))
		}
	}
}
