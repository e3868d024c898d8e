package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
	"github.com/fjod/go_fulfillment/payment-service/internal/service"
	"github.com/fjod/go_fulfillment/pkg/httpx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errorMappings = []httpx.ErrorMapping{
	{Err: service.ErrPaymentNotFound, Status: http.StatusNotFound, Code: "payment_not_found"},
	{Err: service.ErrInvalidRequest, Status: http.StatusBadRequest, Code: "invalid_request"},
	{Err: service.ErrDuplicatePayment, Status: http.StatusConflict, Code: "duplicate_payment"},
	{Err: service.ErrInvalidState, Status: http.StatusConflict, Code: "invalid_state"},
	{Err: service.ErrRefundFailed, Status: http.StatusBadGateway, Code: "refund_failed"},
}

type PaymentsHandler struct {
	payments service.PaymentService
	logger   *zap.Logger
}

func NewPaymentsHandler(payments service.PaymentService, l *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{
		payments: payments,
		logger:   l,
	}
}

func (h *PaymentsHandler) Routes(r chi.Router) {
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/process", h.ProcessPayment)
		r.Get("/order/{orderId}", h.GetByOrder)
		r.Get("/user/{userId}", h.ListByUser)
		r.Get("/status/{status}", h.ListByStatus)
		r.Get("/{paymentId}", h.GetPayment)
		r.Post("/{paymentId}/refund", h.RefundPayment)
	})
}

type CardDetailsDTO struct {
	CardNumber     string `json:"cardNumber"`
	ExpiryDate     string `json:"expiryDate"`
	CVV            string `json:"cvv"`
	CardHolderName string `json:"cardHolderName"`
}

type ProcessPaymentRequestDTO struct {
	OrderID       int64           `json:"orderId"`
	UserID        int64           `json:"userId"`
	Amount        json.Number     `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
	CardDetails   *CardDetailsDTO `json:"cardDetails,omitempty"`
}

type PaymentResponseDTO struct {
	ID               int64       `json:"id"`
	OrderID          int64       `json:"orderId"`
	UserID           int64       `json:"userId"`
	Amount           json.Number `json:"amount"`
	PaymentMethod    string      `json:"paymentMethod"`
	Status           string      `json:"status"`
	PaymentReference string      `json:"paymentReference,omitempty"`
	FailureReason    string      `json:"failureReason,omitempty"`
	CreatedAt        string      `json:"createdAt"`
	UpdatedAt        string      `json:"updatedAt"`
}

func convertPayment(p *domain.Payment) PaymentResponseDTO {
	return PaymentResponseDTO{
		ID:               p.ID,
		OrderID:          p.OrderID,
		UserID:           p.UserID,
		Amount:           json.Number(p.Amount.StringFixed(2)),
		PaymentMethod:    p.PaymentMethod,
		Status:           p.Status.String(),
		PaymentReference: p.PaymentReference,
		FailureReason:    p.FailureReason,
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func convertPayments(payments []*domain.Payment) []PaymentResponseDTO {
	dtos := make([]PaymentResponseDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, convertPayment(p))
	}
	return dtos
}

// POST /api/payments/process
func (h *PaymentsHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var body ProcessPaymentRequestDTO
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(body.Amount.String())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_amount", "amount must be a decimal number")
		return
	}

	userID := httpx.UserID(r.Context())
	if userID == 0 {
		userID = body.UserID
	}

	req := &domain.ProcessPaymentRequest{
		OrderID:       body.OrderID,
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: body.PaymentMethod,
	}
	if c := body.CardDetails; c != nil {
		req.Card = &domain.CardDetails{
			Number:     c.CardNumber,
			ExpiryDate: c.ExpiryDate,
			CVV:        c.CVV,
			HolderName: c.CardHolderName,
		}
	}

	payment, err := h.payments.ProcessPayment(r.Context(), req)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, convertPayment(payment))
}

// GET /api/payments/{paymentId}
func (h *PaymentsHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PositiveIDParam(r, "paymentId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_payment_id", "paymentId must be a positive integer")
		return
	}

	payment, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertPayment(payment))
}

// GET /api/payments/order/{orderId}
func (h *PaymentsHandler) GetByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := httpx.PositiveIDParam(r, "orderId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_order_id", "orderId must be a positive integer")
		return
	}

	payment, err := h.payments.GetPaymentByOrder(r.Context(), orderID)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertPayment(payment))
}

// GET /api/payments/user/{userId}
func (h *PaymentsHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.PositiveIDParam(r, "userId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_user_id", "userId must be a positive integer")
		return
	}

	payments, err := h.payments.GetPaymentsByUser(r.Context(), userID)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertPayments(payments))
}

// GET /api/payments/status/{status}
func (h *PaymentsHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := domain.ParsePaymentStatus(chi.URLParam(r, "status"))
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_status", "unknown payment status")
		return
	}

	payments, err := h.payments.GetPaymentsByStatus(r.Context(), status)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertPayments(payments))
}

// POST /api/payments/{paymentId}/refund
func (h *PaymentsHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PositiveIDParam(r, "paymentId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_payment_id", "paymentId must be a positive integer")
		return
	}

	payment, err := h.payments.RefundPayment(r.Context(), id)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertPayment(payment))
}
