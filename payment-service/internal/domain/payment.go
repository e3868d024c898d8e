package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
)

func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	st := PaymentStatus(s)
	switch st {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return st, true
	}
	return "", false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// Refundable reports whether money was actually taken.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusCompleted
}

type Payment struct {
	ID               int64
	OrderID          int64
	UserID           int64
	Amount           decimal.Decimal
	PaymentMethod    string
	Status           PaymentStatus
	PaymentReference string
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CardDetails travel with the request only and are never stored.
type CardDetails struct {
	Number     string
	ExpiryDate string
	CVV        string
	HolderName string
}

func (c *CardDetails) Last4() string {
	if c == nil || len(c.Number) < 4 {
		return ""
	}
	return c.Number[len(c.Number)-4:]
}

type ProcessPaymentRequest struct {
	OrderID       int64
	UserID        int64
	Amount        decimal.Decimal
	PaymentMethod string
	Card          *CardDetails
}

// NewPaymentReference returns a reference of the form PAY-XXXXXXXX.
func NewPaymentReference() string {
	return "PAY-" + strings.ToUpper(uuid.NewString()[:8])
}
