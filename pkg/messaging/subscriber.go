package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler processes one envelope. Returning an error wrapping
// events.ErrMalformedEvent drops the message to the dead-letter topic;
// any other error is retried until it succeeds or the subscriber stops.
type Handler func(ctx context.Context, env events.Envelope) error

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Subscriber struct {
	route      events.Route
	reader     Reader
	deadLetter Writer
	handler    Handler
	logger     *zap.Logger
	metrics    *metrics.EventMetrics
	newBackOff func() backoff.BackOff
}

// NewReader joins the durable queue of the route: the consumer group is the
// queue name, so every instance of a service shares one queue.
func NewReader(route events.Route, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    route.Key,
		GroupID:  route.Queue(),
		MinBytes: 10e3,
		MaxBytes: 10e6, // 10MB
	})
}

func NewSubscriber(route events.Route, r Reader, deadLetter Writer, h Handler, m *metrics.EventMetrics, l *zap.Logger) *Subscriber {
	return &Subscriber{
		route:      route,
		reader:     r,
		deadLetter: deadLetter,
		handler:    h,
		logger:     l.With(zap.String("queue", route.Queue())),
		metrics:    m,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (s *Subscriber) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.processMessage(ctx)
	}
}

func (s *Subscriber) Close() {
	if err := s.reader.Close(); err != nil {
		s.logger.Error("error closing kafka reader", zap.Error(err))
	}
}

func (s *Subscriber) processMessage(ctx context.Context) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		s.logger.Error("error fetching message", zap.Error(err))
		return
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &m.Headers})
	msgCtx, span := otel.Tracer(tracerName).Start(msgCtx, "consume "+s.route.Key,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", m.Topic),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		))
	defer span.End()
	log := logger.WithContext(msgCtx, s.logger).With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	env, err := events.Decode(m.Value)
	if err == nil {
		err = s.handle(msgCtx, env)
	}

	switch {
	case err == nil:
		s.count("ok")
	case errors.Is(err, events.ErrMalformedEvent):
		log.Warn("dropping malformed event", zap.Error(err), zap.ByteString("raw_value", m.Value))
		s.count("malformed")
		s.sendToDeadLetter(msgCtx, m, log)
	default:
		// stopped mid-retry: leave uncommitted so the broker redelivers
		log.Warn("handler interrupted, message left unacknowledged", zap.Error(err))
		s.count("interrupted")
		return
	}

	if err := s.reader.CommitMessages(ctx, m); err != nil {
		log.Error("error committing message", zap.Error(err))
	}
}

func (s *Subscriber) handle(ctx context.Context, env events.Envelope) error {
	if env[events.FieldEventType] == "" {
		env[events.FieldEventType] = string(s.route.Type)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := s.handler(ctx, env)
		if err == nil {
			return nil
		}
		if errors.Is(err, events.ErrMalformedEvent) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("handler failed, retrying",
			zap.String("event_id", env.ID()), zap.Int("attempt", attempt), zap.Error(err))
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (s *Subscriber) sendToDeadLetter(ctx context.Context, m kafka.Message, log *zap.Logger) {
	if s.deadLetter == nil {
		return
	}
	dl := kafka.Message{
		Topic:   s.route.DeadLetter(),
		Key:     m.Key,
		Value:   m.Value,
		Headers: m.Headers,
		Time:    time.Now().UTC(),
	}
	if err := s.deadLetter.WriteMessages(ctx, dl); err != nil {
		log.Error("error writing to dead-letter topic", zap.Error(err))
	}
}

func (s *Subscriber) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Consumed.WithLabelValues(s.route.Key, outcome).Inc()
	}
}
