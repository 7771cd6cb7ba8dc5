package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/config"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/oklog/ulid/v2"
)

// Simulator is an in-process processor for environments without a gateway.
// Outcomes are drawn from a seeded source so runs are reproducible.
type Simulator struct {
	mu           sync.Mutex
	rng          *rand.Rand
	completedPct int
	pendingPct   int
	latency      time.Duration
}

// NewSimulator returns a simulator that completes completedPct percent of
// attempts, leaves pendingPct pending and fails the rest. A zero seed uses the clock.
func NewSimulator(seed int64, completedPct, pendingPct int, latency time.Duration) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		rng:          rand.New(rand.NewSource(seed)),
		completedPct: completedPct,
		pendingPct:   pendingPct,
		latency:      latency,
	}
}

func (s *Simulator) Channel() string {
	return domain.PaymentChannelSimulated
}

func (s *Simulator) MinimumAmount() int64 { return 0 }

func (s *Simulator) Attempt(ctx context.Context, payment *domain.Payment, invoice *domain.Invoice, method *domain.PaymentMethod) (*domain.ProcessorResult, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	roll := s.rng.Intn(100)
	s.mu.Unlock()

	txnID := "SIM-" + ulid.Make().String()
	switch {
	case roll < s.completedPct:
		return &domain.ProcessorResult{
			Status:        domain.ProcessorCompleted,
			TransactionID: txnID,
			Notes:         fmt.Sprintf("simulated charge via %s", method.Label()),
		}, nil
	case roll < s.completedPct+s.pendingPct:
		return &domain.ProcessorResult{
			Status:        domain.ProcessorPending,
			TransactionID: txnID,
			Notes:         "awaiting processor confirmation",
		}, nil
	default:
		return &domain.ProcessorResult{
			Status:        domain.ProcessorFailed,
			TransactionID: txnID,
			FailureReason: "declined by issuer (simulated)",
		}, nil
	}
}

// GatewayProcessor routes a direct attempt through the redirect gateway. The
// buyer still has to complete the hosted checkout, so the attempt is always
// pending and settles later through Reconcile.
type GatewayProcessor struct {
	gateway       domain.GatewayClient
	description   string
	minimumAmount int64
}

func NewGatewayProcessor(gateway domain.GatewayClient, description string, minimumAmount int64) *GatewayProcessor {
	return &GatewayProcessor{gateway: gateway, description: description, minimumAmount: minimumAmount}
}

func (p *GatewayProcessor) Channel() string {
	return domain.PaymentChannelGateway
}

func (p *GatewayProcessor) MinimumAmount() int64 {
	return p.minimumAmount
}

// Attempt opens a checkout keyed on the payment row, so retries on one
// invoice carry distinct gateway reference ids.
func (p *GatewayProcessor) Attempt(ctx context.Context, payment *domain.Payment, invoice *domain.Invoice, method *domain.PaymentMethod) (*domain.ProcessorResult, error) {
	if payment.Amount < p.minimumAmount {
		return nil, fmt.Errorf("%w: %d < %d", domain.ErrBelowMinimum, payment.Amount, p.minimumAmount)
	}
	session, err := p.gateway.CreateCheckoutURL(ctx, domain.CheckoutRequest{
		PaymentID:   payment.ID,
		Amount:      payment.Amount,
		Description: p.description,
		BankHint:    method.Provider,
	})
	if err != nil {
		return nil, err
	}

	return &domain.ProcessorResult{
		Status:           domain.ProcessorPending,
		TransactionID:    session.Reference,
		GatewayReference: session.Reference,
		Notes:            "checkout: " + session.URL,
	}, nil
}

// NewPaymentProcessor picks the direct-settlement processor for the configured mode
func NewPaymentProcessor(cfg config.PaymentConfig, gateway domain.GatewayClient) domain.PaymentProcessor {
	if cfg.ProcessorMode == config.ProcessorModeGateway && gateway != nil {
		return NewGatewayProcessor(gateway, cfg.DefaultDescription, cfg.MinimumAmount)
	}
	return NewSimulator(cfg.SimulatorSeed, cfg.SimulatorCompleted, cfg.SimulatorPending, cfg.SimulatorLatency)
}
