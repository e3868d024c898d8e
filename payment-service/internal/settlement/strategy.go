package settlement

import (
	"context"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
)

// Result is the outcome reported by a payment processor. Reason is set only when
// Approved is false.
type Result struct {
	Approved bool
	Reason   string
}

// Strategy moves money for a payment. An error means the processor could not be
// reached; a refusal is a Result with Approved false.
type Strategy interface {
	Charge(ctx context.Context, p *domain.Payment) (Result, error)
	Refund(ctx context.Context, p *domain.Payment) (Result, error)
}

// Fixed always answers with the configured results.
type Fixed struct {
	ChargeResult Result
	RefundResult Result
	Err          error
}

func (f Fixed) Charge(context.Context, *domain.Payment) (Result, error) {
	return f.ChargeResult, f.Err
}

func (f Fixed) Refund(context.Context, *domain.Payment) (Result, error) {
	return f.RefundResult, f.Err
}

func Approve() Fixed {
	return Fixed{ChargeResult: Result{Approved: true}, RefundResult: Result{Approved: true}}
}

func Decline(reason string) Fixed {
	return Fixed{
		ChargeResult: Result{Reason: reason},
		RefundResult: Result{Reason: reason},
	}
}
