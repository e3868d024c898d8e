package service

import (
	"errors"

	"github.com/fjod/go_fulfillment/payment-service/internal/repository"
)

var (
	ErrPaymentNotFound  = repository.ErrPaymentNotFound
	ErrDuplicatePayment = repository.ErrDuplicatePayment
	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrInvalidState     = errors.New("payment is not in a refundable state")
	ErrRefundFailed     = errors.New("refund was not settled")
)
