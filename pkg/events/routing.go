package events

const (
	OrderExchange   = "order.exchange"
	PaymentExchange = "payment.exchange"

	KeyOrderCreated       = "order.created"
	KeyOrderStatusChanged = "order.status.changed"
	KeyOrderCancelled     = "order.cancelled"
	KeyPaymentProcessed   = "payment.processed"
	KeyPaymentRefunded    = "payment.refunded"
)

type Type string

const (
	TypeOrderCreated       Type = "ORDER_CREATED"
	TypeOrderStatusChanged Type = "ORDER_STATUS_CHANGED"
	TypeOrderCancelled     Type = "ORDER_CANCELLED"
	TypePaymentProcessed   Type = "PAYMENT_PROCESSED"
	TypePaymentRefunded    Type = "PAYMENT_REFUNDED"
)

// Route binds a routing key to its exchange. Each key has exactly one durable queue.
type Route struct {
	Exchange string
	Key      string
	Type     Type
}

func (r Route) Queue() string {
	return r.Key + ".queue"
}

func (r Route) DeadLetter() string {
	return r.Key + ".dlq"
}

var (
	OrderCreated       = Route{OrderExchange, KeyOrderCreated, TypeOrderCreated}
	OrderStatusChanged = Route{OrderExchange, KeyOrderStatusChanged, TypeOrderStatusChanged}
	OrderCancelled     = Route{OrderExchange, KeyOrderCancelled, TypeOrderCancelled}
	PaymentProcessed   = Route{PaymentExchange, KeyPaymentProcessed, TypePaymentProcessed}
	PaymentRefunded    = Route{PaymentExchange, KeyPaymentRefunded, TypePaymentRefunded}
)

var Routes = []Route{
	OrderCreated,
	OrderStatusChanged,
	OrderCancelled,
	PaymentProcessed,
	PaymentRefunded,
}

func RouteFor(t Type) (Route, bool) {
	for _, r := range Routes {
		if r.Type == t {
			return r, true
		}
	}
	return Route{}, false
}

func RouteForKey(key string) (Route, bool) {
	for _, r := range Routes {
		if r.Key == key {
			return r, true
		}
	}
	return Route{}, false
}
