package service

import (
	"context"
	"fmt"

	"github.com/fjod/go_fulfillment/notification-service/internal/dedup"
	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/logger"
	"go.uber.org/zap"
)

const (
	subjectOrderConfirmation = "Order Confirmation"
	subjectPaymentSuccessful = "Payment Successful"
	subjectPaymentFailed     = "Payment Failed"
)

// Dispatcher turns broker events into notifications.
type Dispatcher struct {
	notifications *NotificationServiceImpl
	dedup         dedup.Store
	logger        *zap.Logger
}

// NewDispatcher builds the event handler. A nil store disables deduplication,
// so a redelivered event is notified again.
func NewDispatcher(notifications *NotificationServiceImpl, store dedup.Store, l *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		dedup:         store,
		logger:        l,
	}
}

// Handle has the messaging.Handler signature. Storage errors are returned so
// the event is redelivered; delivery failures are recorded and acknowledged.
func (d *Dispatcher) Handle(ctx context.Context, env events.Envelope) error {
	log := logger.WithContext(ctx, d.logger).With(
		zap.String("event_type", string(env.Type())),
		zap.String("event_id", env.ID()))

	key := env.DedupKey()
	claimed := false
	if d.dedup != nil {
		state, err := d.dedup.Claim(ctx, key)
		switch {
		case err != nil:
			log.Warn("dedup store unavailable, handling without claim", zap.Error(err))
		case state == dedup.Done:
			log.Info("duplicate event skipped", zap.String("dedup_key", key))
			return nil
		case state == dedup.InProgress:
			// redelivered until the holder completes or its lease lapses
			return fmt.Errorf("%w: %s", ErrEventInProgress, key)
		default:
			claimed = true
		}
	}

	err := d.dispatch(ctx, env, log)
	if !claimed {
		return err
	}
	detached := context.WithoutCancel(ctx)
	if err != nil {
		if rerr := d.dedup.Release(detached, key); rerr != nil {
			log.Error("failed to release dedup claim", zap.String("dedup_key", key), zap.Error(rerr))
		}
		return err
	}
	if cerr := d.dedup.Complete(detached, key); cerr != nil {
		log.Error("failed to mark event handled", zap.String("dedup_key", key), zap.Error(cerr))
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, env events.Envelope, log *zap.Logger) error {
	switch env.Type() {
	case events.TypeOrderCreated:
		return d.onOrderCreated(ctx, env)
	case events.TypePaymentProcessed:
		return d.onPaymentProcessed(ctx, env)
	case events.TypeOrderCancelled, events.TypePaymentRefunded, events.TypeOrderStatusChanged:
		log.Info("event acknowledged without notification", zap.String("order_id", env[events.FieldOrderID]))
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", events.ErrMalformedEvent, env.Type())
	}
}

func (d *Dispatcher) onOrderCreated(ctx context.Context, env events.Envelope) error {
	orderID, userID, err := ids(env)
	if err != nil {
		return err
	}

	n := emailFor(env, userID,
		subjectOrderConfirmation,
		fmt.Sprintf("Your order #%d has been confirmed and is being processed.", orderID))
	n.TemplateParams = map[string]string{
		"orderId":     env[events.FieldOrderID],
		"totalAmount": env[events.FieldTotalAmount],
	}
	_, err = d.notifications.deliver(ctx, n)
	return err
}

func (d *Dispatcher) onPaymentProcessed(ctx context.Context, env events.Envelope) error {
	orderID, userID, err := ids(env)
	if err != nil {
		return err
	}
	status, err := env.Text(events.FieldStatus)
	if err != nil {
		return err
	}

	var n *domain.Notification
	if status == "COMPLETED" {
		n = emailFor(env, userID, subjectPaymentSuccessful,
			fmt.Sprintf("Your payment for order #%d has been processed successfully.", orderID))
	} else {
		n = emailFor(env, userID, subjectPaymentFailed,
			fmt.Sprintf("Your payment for order #%d failed. Please try again.", orderID))
	}
	n.TemplateParams = map[string]string{
		"orderId": env[events.FieldOrderID],
		"amount":  env[events.FieldAmount],
		"status":  status,
	}
	if ref := env[events.FieldPaymentReference]; ref != "" {
		n.TemplateParams["paymentReference"] = ref
	}
	_, err = d.notifications.deliver(ctx, n)
	return err
}

func ids(env events.Envelope) (orderID, userID int64, err error) {
	if orderID, err = env.Int64(events.FieldOrderID); err != nil {
		return 0, 0, err
	}
	if userID, err = env.Int64(events.FieldUserID); err != nil {
		return 0, 0, err
	}
	return orderID, userID, nil
}

func emailFor(env events.Envelope, userID int64, subject, body string) *domain.Notification {
	return &domain.Notification{
		UserID:    userID,
		Recipient: domain.EmailAddress(userID),
		Channel:   domain.ChannelEmail,
		Subject:   subject,
		Body:      body,
		EventID:   env.ID(),
	}
}
