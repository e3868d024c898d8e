package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"github.com/fjod/go_fulfillment/notification-service/internal/service"
	"github.com/fjod/go_fulfillment/pkg/httpx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var errorMappings = []httpx.ErrorMapping{
	{Err: service.ErrNotificationNotFound, Status: http.StatusNotFound, Code: "notification_not_found"},
	{Err: service.ErrInvalidRequest, Status: http.StatusBadRequest, Code: "invalid_request"},
}

type NotificationsHandler struct {
	notifications service.NotificationService
	logger        *zap.Logger
}

func NewNotificationsHandler(notifications service.NotificationService, l *zap.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		notifications: notifications,
		logger:        l,
	}
}

func (h *NotificationsHandler) Routes(r chi.Router) {
	r.Route("/api/notifications", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Get("/user/{userId}", h.ListByUser)
		r.Get("/user/{userId}/unread-count", h.UnreadCount)
		r.Get("/status/{status}", h.ListByStatus)
		r.Get("/{id}", h.GetNotification)
	})
}

type SendRequestDTO struct {
	UserID         int64             `json:"userId"`
	Recipient      string            `json:"recipient"`
	Channel        string            `json:"channel"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	TemplateParams map[string]string `json:"templateParams,omitempty"`
}

type NotificationResponseDTO struct {
	ID             string            `json:"id"`
	UserID         int64             `json:"userId"`
	Recipient      string            `json:"recipient"`
	Channel        string            `json:"channel"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	TemplateParams map[string]string `json:"templateParams,omitempty"`
	Status         string            `json:"status"`
	FailureReason  string            `json:"failureReason,omitempty"`
	CreatedAt      string            `json:"createdAt"`
	SentAt         string            `json:"sentAt,omitempty"`
}

type UnreadCountDTO struct {
	UserID      int64 `json:"userId"`
	UnreadCount int64 `json:"unreadCount"`
}

func convertNotification(n *domain.Notification) NotificationResponseDTO {
	dto := NotificationResponseDTO{
		ID:             n.ID,
		UserID:         n.UserID,
		Recipient:      n.Recipient,
		Channel:        string(n.Channel),
		Subject:        n.Subject,
		Body:           n.Body,
		TemplateParams: n.TemplateParams,
		Status:         string(n.Status),
		FailureReason:  n.FailureReason,
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.SentAt != nil {
		dto.SentAt = n.SentAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func convertNotifications(ns []*domain.Notification) []NotificationResponseDTO {
	dtos := make([]NotificationResponseDTO, 0, len(ns))
	for _, n := range ns {
		dtos = append(dtos, convertNotification(n))
	}
	return dtos
}

// POST /api/notifications/send
func (h *NotificationsHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body SendRequestDTO
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	ch, ok := domain.ParseChannel(body.Channel)
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_channel", "channel must be EMAIL, SMS or PUSH")
		return
	}

	n, err := h.notifications.Send(r.Context(), &domain.SendRequest{
		UserID:         body.UserID,
		Recipient:      body.Recipient,
		Channel:        ch,
		Subject:        body.Subject,
		Body:           body.Body,
		TemplateParams: body.TemplateParams,
	})
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusCreated, convertNotification(n))
}

// GET /api/notifications/{id}
func (h *NotificationsHandler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertNotification(n))
}

// GET /api/notifications/user/{userId}
func (h *NotificationsHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.PositiveIDParam(r, "userId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_user_id", "userId must be a positive integer")
		return
	}

	ns, err := h.notifications.GetByUser(r.Context(), userID)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertNotifications(ns))
}

// GET /api/notifications/user/{userId}/unread-count
func (h *NotificationsHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := httpx.PositiveIDParam(r, "userId")
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_user_id", "userId must be a positive integer")
		return
	}

	count, err := h.notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, UnreadCountDTO{UserID: userID, UnreadCount: count})
}

// GET /api/notifications/status/{status}
func (h *NotificationsHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := domain.ParseStatus(chi.URLParam(r, "status"))
	if !ok {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_status", "unknown notification status")
		return
	}

	ns, err := h.notifications.GetByStatus(r.Context(), status)
	if err != nil {
		httpx.RespondMappedError(w, h.logger, err, errorMappings...)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, convertNotifications(ns))
}
