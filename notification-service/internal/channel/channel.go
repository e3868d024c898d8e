package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
)

var ErrUnsupportedChannel = errors.New("unsupported channel")

// Sender delivers one notification. A returned error is a delivery failure
// and its message becomes the record's failure reason.
type Sender interface {
	Send(ctx context.Context, n *domain.Notification) error
}

// Registry routes a notification to the sender of its channel.
type Registry map[domain.Channel]Sender

func (r Registry) Send(ctx context.Context, n *domain.Notification) error {
	s, ok := r[n.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, n.Channel)
	}
	return s.Send(ctx, n)
}
