package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrMalformedEvent = errors.New("malformed event")

const (
	FieldEventID          = "eventId"
	FieldEventType        = "eventType"
	FieldOrderID          = "orderId"
	FieldUserID           = "userId"
	FieldTotalAmount      = "totalAmount"
	FieldStatus           = "status"
	FieldOldStatus        = "oldStatus"
	FieldNewStatus        = "newStatus"
	FieldPaymentID        = "paymentId"
	FieldAmount           = "amount"
	FieldPaymentReference = "paymentReference"
	FieldTimestamp        = "timestamp"
)

// localTimestamp is accepted on input for producers that omit the zone.
const localTimestamp = "2006-01-02T15:04:05.999999999"

// Envelope is the flat wire shape shared by every producer and consumer.
// All values are text.
type Envelope map[string]string

func newEnvelope(t Type, orderID, userID int64, at time.Time) Envelope {
	return Envelope{
		FieldEventID:   uuid.NewString(),
		FieldEventType: string(t),
		FieldOrderID:   strconv.FormatInt(orderID, 10),
		FieldUserID:    strconv.FormatInt(userID, 10),
		FieldTimestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

func NewOrderCreated(orderID, userID int64, total decimal.Decimal, status string, at time.Time) Envelope {
	e := newEnvelope(TypeOrderCreated, orderID, userID, at)
	e[FieldTotalAmount] = total.StringFixed(2)
	e[FieldStatus] = status
	return e
}

func NewOrderStatusChanged(orderID, userID int64, oldStatus, newStatus string, at time.Time) Envelope {
	e := newEnvelope(TypeOrderStatusChanged, orderID, userID, at)
	e[FieldOldStatus] = oldStatus
	e[FieldNewStatus] = newStatus
	return e
}

func NewOrderCancelled(orderID, userID int64, total decimal.Decimal, at time.Time) Envelope {
	e := newEnvelope(TypeOrderCancelled, orderID, userID, at)
	e[FieldTotalAmount] = total.StringFixed(2)
	return e
}

// NewPaymentProcessed omits paymentReference when the payment has none.
func NewPaymentProcessed(paymentID, orderID, userID int64, amount decimal.Decimal, status, reference string, at time.Time) Envelope {
	e := newEnvelope(TypePaymentProcessed, orderID, userID, at)
	e[FieldPaymentID] = strconv.FormatInt(paymentID, 10)
	e[FieldAmount] = amount.StringFixed(2)
	e[FieldStatus] = status
	if reference != "" {
		e[FieldPaymentReference] = reference
	}
	return e
}

func NewPaymentRefunded(paymentID, orderID, userID int64, amount decimal.Decimal, reference string, at time.Time) Envelope {
	e := newEnvelope(TypePaymentRefunded, orderID, userID, at)
	e[FieldPaymentID] = strconv.FormatInt(paymentID, 10)
	e[FieldAmount] = amount.StringFixed(2)
	e[FieldPaymentReference] = reference
	return e
}

func (e Envelope) Type() Type {
	return Type(e[FieldEventType])
}

func (e Envelope) ID() string {
	return e[FieldEventID]
}

// DedupKey identifies the logical event. Envelopes without an id fall back
// to the event type and order id.
func (e Envelope) DedupKey() string {
	if id := e.ID(); id != "" {
		return id
	}
	return e[FieldEventType] + ":" + e[FieldOrderID]
}

func (e Envelope) Text(field string) (string, error) {
	v, ok := e[field]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedEvent, field)
	}
	return v, nil
}

func (e Envelope) Int64(field string) (int64, error) {
	v, err := e.Text(field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrMalformedEvent, field, v)
	}
	return n, nil
}

func (e Envelope) Decimal(field string) (decimal.Decimal, error) {
	v, err := e.Text(field)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q is not a decimal", ErrMalformedEvent, field, v)
	}
	return d, nil
}

func (e Envelope) Time(field string) (time.Time, error) {
	v, err := e.Text(field)
	if err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(localTimestamp, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s=%q is not a timestamp", ErrMalformedEvent, field, v)
	}
	return t, nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(map[string]string(e))
}

// Decode accepts any flat JSON object. Scalar values that arrive unquoted are
// converted to text; nested values make the whole message malformed.
func Decode(data []byte) (Envelope, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}

	e := make(Envelope, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			e[k] = val
		case json.Number:
			e[k] = val.String()
		case bool:
			e[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("%w: field %s is not a scalar", ErrMalformedEvent, k)
		}
	}
	return e, nil
}
