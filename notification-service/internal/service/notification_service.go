package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_fulfillment/notification-service/internal/channel"
	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"github.com/fjod/go_fulfillment/notification-service/internal/repository"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"github.com/fjod/go_fulfillment/pkg/metrics"
	"go.uber.org/zap"
)

type NotificationService interface {
	Send(ctx context.Context, req *domain.SendRequest) (*domain.Notification, error)
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByUser(ctx context.Context, userID int64) ([]*domain.Notification, error)
	GetByStatus(ctx context.Context, status domain.Status) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
}

type NotificationServiceImpl struct {
	repo    repository.NotificationRepository
	sender  channel.Sender
	metrics *metrics.DeliveryMetrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewNotificationService(repo repository.NotificationRepository, sender channel.Sender, m *metrics.DeliveryMetrics, l *zap.Logger) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		repo:    repo,
		sender:  sender,
		metrics: m,
		logger:  l,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Send delivers a notification outside of any event. A delivery failure is not
// an error: the returned record is FAILED with the reason.
func (s *NotificationServiceImpl) Send(ctx context.Context, req *domain.SendRequest) (*domain.Notification, error) {
	if req.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return nil, fmt.Errorf("%w: subject and body are required", ErrInvalidRequest)
	}
	ch := req.Channel
	if ch == "" {
		ch = domain.ChannelEmail
	}
	recipient := req.Recipient
	if recipient == "" {
		if ch != domain.ChannelEmail {
			return nil, fmt.Errorf("%w: recipient is required for %s", ErrInvalidRequest, ch)
		}
		recipient = domain.EmailAddress(req.UserID)
	}

	return s.deliver(ctx, &domain.Notification{
		UserID:         req.UserID,
		Recipient:      recipient,
		Channel:        ch,
		Subject:        req.Subject,
		Body:           req.Body,
		TemplateParams: req.TemplateParams,
	})
}

// deliver saves the record as PENDING, attempts delivery and saves the
// outcome. Only storage errors are returned.
func (s *NotificationServiceImpl) deliver(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	log := logger.WithContext(ctx, s.logger)

	n.Status = domain.StatusPending
	n.CreatedAt = s.now()
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}

	if err := s.sender.Send(ctx, n); err != nil {
		n.MarkFailed(err.Error(), s.now())
		log.Warn("notification delivery failed",
			zap.String("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Error(err))
	} else {
		n.MarkSent(s.now())
		log.Info("notification sent",
			zap.String("notification_id", n.ID),
			zap.Int64("user_id", n.UserID),
			zap.String("subject", n.Subject))
	}
	if s.metrics != nil {
		s.metrics.Attempts.WithLabelValues(string(n.Channel), string(n.Status)).Inc()
	}

	if err := s.repo.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to record delivery of notification %s: %w", n.ID, err)
	}
	return n, nil
}

func (s *NotificationServiceImpl) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *NotificationServiceImpl) GetByUser(ctx context.Context, userID int64) ([]*domain.Notification, error) {
	return s.repo.ListByUserID(ctx, userID)
}

func (s *NotificationServiceImpl) GetByStatus(ctx context.Context, status domain.Status) ([]*domain.Notification, error) {
	return s.repo.ListByStatus(ctx, status)
}

// UnreadCount counts the notifications that reached the user.
func (s *NotificationServiceImpl) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.repo.CountByUserAndStatus(ctx, userID, domain.StatusSent)
}
