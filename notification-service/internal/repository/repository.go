package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository stores delivery records. Lists are newest first.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	Update(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByUserID(ctx context.Context, userID int64) ([]*domain.Notification, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Notification, error)
	CountByUserAndStatus(ctx context.Context, userID int64, status domain.Status) (int64, error)
}
