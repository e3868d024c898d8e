package channel

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
)

// Simulated stands in for an SMS or push gateway and rejects a share of sends.
type Simulated struct {
	name        string
	successRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(name string, successRate float64, rnd *rand.Rand) *Simulated {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulated{name: name, successRate: successRate, rnd: rnd}
}

func (s *Simulated) Send(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Recipient == "" {
		return fmt.Errorf("%s has no recipient", s.name)
	}

	s.mu.Lock()
	roll := s.rnd.Float64()
	s.mu.Unlock()

	if roll >= s.successRate {
		return fmt.Errorf("%s gateway rejected message", s.name)
	}
	return nil
}
