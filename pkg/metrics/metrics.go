package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillment"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Middleware records request count and latency keyed by chi route pattern.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// EventMetrics counts broker traffic per topic.
type EventMetrics struct {
	Published *prometheus.CounterVec
	Consumed  *prometheus.CounterVec
}

func NewEventMetrics(reg prometheus.Registerer, service string) *EventMetrics {
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "events_published_total",
		Help:      "Events published per topic and outcome.",
	}, []string{"topic", "outcome"})
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "events_consumed_total",
		Help:      "Events consumed per topic and outcome.",
	}, []string{"topic", "outcome"})

	reg.MustRegister(published, consumed)
	return &EventMetrics{Published: published, Consumed: consumed}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// IntentMetrics tracks stock calls that did not reach the inventory service.
type IntentMetrics struct {
	Failures  *prometheus.CounterVec
	Abandoned *prometheus.CounterVec
}

func NewIntentMetrics(reg prometheus.Registerer, service string) *IntentMetrics {
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "stock_intent_failures_total",
		Help:      "Failed attempts to apply a stock intent.",
	}, []string{"kind"})
	abandoned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "stock_intents_abandoned_total",
		Help:      "Stock intents given up on; inventory needs reconciling.",
	}, []string{"kind"})

	reg.MustRegister(failures, abandoned)
	return &IntentMetrics{Failures: failures, Abandoned: abandoned}
}

// DeliveryMetrics counts notification delivery attempts.
type DeliveryMetrics struct {
	Attempts *prometheus.CounterVec
}

func NewDeliveryMetrics(reg prometheus.Registerer, service string) *DeliveryMetrics {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "deliveries_total",
		Help:      "Notification deliveries per channel and outcome.",
	}, []string{"channel", "status"})

	reg.MustRegister(attempts)
	return &DeliveryMetrics{Attempts: attempts}
}

// PaymentMetrics tracks payments whose settlement outcome could not be recorded.
type PaymentMetrics struct {
	Stranded prometheus.Counter
}

func NewPaymentMetrics(reg prometheus.Registerer, service string) *PaymentMetrics {
	stranded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "payments_stranded_total",
		Help:      "Payments settled but left PROCESSING because the result was not stored.",
	})

	reg.MustRegister(stranded)
	return &PaymentMetrics{Stranded: stranded}
}
