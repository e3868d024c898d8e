package settlement

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
)

const unknownReason = "unknown reason"

var refusals = []string{
	"insufficient funds",
	"card declined",
	"card expired",
	"suspected fraud",
	"limit exceeded",
}

type Config struct {
	ChargeSuccessRate float64
	RefundSuccessRate float64
	Latency           time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChargeSuccessRate: 0.9,
		RefundSuccessRate: 0.95,
		Latency:           100 * time.Millisecond,
	}
}

// Simulated stands in for a real processor. It approves a configurable share of
// requests and picks a refusal reason for the rest.
type Simulated struct {
	cfg Config

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(cfg Config, rnd *rand.Rand) *Simulated {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulated{cfg: cfg, rnd: rnd}
}

func (s *Simulated) Charge(ctx context.Context, _ *domain.Payment) (Result, error) {
	return s.settle(ctx, s.cfg.ChargeSuccessRate)
}

func (s *Simulated) Refund(ctx context.Context, _ *domain.Payment) (Result, error) {
	return s.settle(ctx, s.cfg.RefundSuccessRate)
}

func (s *Simulated) settle(ctx context.Context, rate float64) (Result, error) {
	if s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	roll := s.rnd.Intn(100)
	s.mu.Unlock()

	return calcResult(roll, int(math.Round(rate*100))), nil
}

// calcResult approves rolls below successPercent. The first rolls past the
// threshold map onto known refusals, the rest are reported as unknown.
func calcResult(roll, successPercent int) Result {
	if roll < successPercent {
		return Result{Approved: true}
	}
	idx := roll - successPercent
	if idx == 0 || idx > len(refusals) {
		return Result{Reason: unknownReason}
	}
	return Result{Reason: refusals[idx-1]}
}
