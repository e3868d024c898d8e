package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/orders-service/internal/service"
	"github.com/fjod/go_fulfillment/pkg/httpx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var errorMappings = []httpx.ErrorMapping{
	{Err: service.ErrOrderNotFound, Status: http.StatusNotFound, Code: "order_not_found"},
	{Err: service.ErrInvalidRequest, Status: http.StatusBadRequest, Code: "invalid_request"},
	{Err: service.ErrInventoryUnavailable, Status: http.StatusConflict, Code: "inventory_unavailable"},
	{Err: service.ErrInvalidTransition, Status: http.StatusConflict, Code: "invalid_transition"},
	{Err: service.ErrDownstreamUnavailable, Status: http.StatusServiceUnavailable, Code: "downstream_unavailable"},
}

type OrdersHandler struct {
	orders service.OrderService
	logger *zap.Logger
}

func NewOrdersHandler(orders service.OrderService, l *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		orders: orders,
		logger: l,
	}
}

func (h *OrdersHandler) Routes(r chi.Router) {
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/user/{userId}", h.ListByUser)
		r.Get("/status/{status}", h.ListByStatus)
		r.Get("/{orderId}", h.GetOrder)
		r.Put("/{orderId}/status", h.UpdateStatus)
		r.Delete("/{orderId}", h.CancelOrder)
	})
}

type OrderItemRequestDTO struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type CreateOrderRequestDTO struct {
	UserID          int64                 `json:"userId"`
	ShippingAddress string                `json:"shippingAddress"`
	BillingAddress  string                `json:"billingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	Items           []OrderItemRequestDTO `json:"items"`
}

type OrderItemDTO struct {
	ProductID   int64       `json:"productId"`
	ProductName string      `json:"productName"`
	Quantity    int         `json:"quantity"`
	Price       json.Number `json:"price"`
	Subtotal    json.Number `json:"subtotal"`
}

type OrderResponseDTO struct {
	ID              int64          `json:"id"`
	UserID          int64          `json:"userId"`
	Items           []OrderItemDTO `json:"items"`
	TotalAmount     json.Number    `json:"totalAmount"`
	ShippingAddress string         `json:"shippingAddress"`
	BillingAddress  string         `json:"billingAddress,omitempty"`
	PaymentMethod   string         `json:"paymentMethod,omitempty"`
	Status          string         `json:"status"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Price:       json.Number(item.Price.StringFixed(2)),
			Subtotal:    json.Number(item.Subtotal.StringFixed(2)),
		})
	}
	return OrderResponseDTO{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           items,
		TotalAmount:     json.Number(o.TotalAmount.StringFixed(2)),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		PaymentMethod:   o.PaymentMethod,
		Status:          o.Status.String(),
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func convertOrders(orders []*domain.Order) []OrderResponseDTO {
	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	return dtos
}

// POST /api/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body CreateOrderRequestDTO
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	// the identity header wins over the body
	userID := httpx.UserID(r.Context())
	if userID == 0 {
		userID = body.UserID
	}

	req := &domain.CreateOrderRequest{
		UserID:          userID,
		ShippingAddress: body.ShippingAddress,
		BillingAddress:  body.BillingAddress,
		PaymentMethod:   body.PaymentMethod,
		Items:           make([]domain.ItemRequest, 0, len(body.Items)),
	}
	for _, item := range body.Items {
		req.Items = append(req.Items, domain.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, convertOrder(order))
}

// GET /api/orders/{orderId}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PositiveIDParam(r, "orderId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_order_id", "orderId must be a positive integer")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertOrder(order))
}

// GET /api/orders/user/{userId}
func (h *OrdersHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.PositiveIDParam(r, "userId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_user_id", "userId must be a positive integer")
		return
	}

	orders, err := h.orders.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertOrders(orders))
}

// GET /api/orders/status/{status}
func (h *OrdersHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := domain.ParseOrderStatus(chi.URLParam(r, "status"))
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_status", "unknown order status")
		return
	}

	orders, err := h.orders.GetOrdersByStatus(r.Context(), status)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertOrders(orders))
}

// PUT /api/orders/{orderId}/status?status=X
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PositiveIDParam(r, "orderId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_order_id", "orderId must be a positive integer")
		return
	}
	status, ok := domain.ParseOrderStatus(r.URL.Query().Get("status"))
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_status", "unknown order status")
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), id, status)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertOrder(order))
}

// DELETE /api/orders/{orderId}
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PositiveIDParam(r, "orderId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_order_id", "orderId must be a positive integer")
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertOrder(order))
}
