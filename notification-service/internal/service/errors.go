package service

import (
	"errors"

	"github.com/fjod/go_fulfillment/notification-service/internal/repository"
)

var (
	ErrNotificationNotFound = repository.ErrNotificationNotFound
	ErrInvalidRequest       = errors.New("invalid notification request")
	ErrEventInProgress      = errors.New("event is being handled elsewhere")
)
