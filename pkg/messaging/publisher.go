package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnknownRoute = errors.New("no route for event type")

const tracerName = "github.com/fjod/go_fulfillment/pkg/messaging"

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends envelopes to the topic named by their routing key.
type Publisher struct {
	writer  Writer
	metrics *metrics.EventMetrics
}

func NewWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewPublisher(w Writer, m *metrics.EventMetrics) *Publisher {
	return &Publisher{writer: w, metrics: m}
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	route, ok := events.RouteFor(env.Type())
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, env.Type())
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "publish "+route.Key,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", route.Key),
		))
	defer span.End()

	value, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := kafka.Message{
		Topic: route.Key,
		Key:   []byte(env[events.FieldOrderID]),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(route.Type)},
			{Key: HeaderEventID, Value: []byte(env.ID())},
			{Key: HeaderExchange, Value: []byte(route.Exchange)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.count(route.Key, "error")
		span.RecordError(err)
		return fmt.Errorf("write %s: %w", route.Key, err)
	}
	p.count(route.Key, "ok")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) count(topic, outcome string) {
	if p.metrics != nil {
		p.metrics.Published.WithLabelValues(topic, outcome).Inc()
	}
}
