package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/config"
	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/infrastructure/ipaymu"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// IPaymuGateway adapts ipaymu.Client to domain.GatewayClient
type IPaymuGateway struct {
	client *ipaymu.Client
}

// MockGateway stands in for iPaymu in development. It does not verify
// callback signatures.
type MockGateway struct {
	baseURL string
}

// NewGatewayClient returns the real iPaymu gateway when credentials are
// configured and a mock otherwise.
func NewGatewayClient(cfg config.IPaymuConfig, timeout time.Duration, log *zap.Logger) domain.GatewayClient {
	if !cfg.Enabled() {
		log.Info("using mock payment gateway (no iPaymu credentials configured)")
		return &MockGateway{baseURL: "https://checkout.mock.local"}
	}

	log.Info("using iPaymu gateway",
		zap.String("base_url", cfg.BaseURL),
		zap.String("notify_url", cfg.NotifyURL),
	)
	return &IPaymuGateway{client: ipaymu.NewClient(ipaymu.Config{
		VA:        cfg.VA,
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		NotifyURL: cfg.NotifyURL,
		ReturnURL: cfg.ReturnURL,
		CancelURL: cfg.CancelURL,
		Timeout:   timeout,
		Logger:    log,
	})}
}

func NewIPaymuGateway(client *ipaymu.Client) *IPaymuGateway {
	return &IPaymuGateway{client: client}
}

func (g *IPaymuGateway) CreateCheckoutURL(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	session, err := g.client.CreateRedirectPayment(ctx, req.PaymentID, req.Amount, req.Description,
		ipaymu.MapBankCodeToIPAYMU(req.BankHint))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return &domain.CheckoutSession{URL: session.URL, Reference: session.SessionID}, nil
}

func (g *IPaymuGateway) ExtractReference(params map[string]string) (string, string) {
	return extractSID(params)
}

func (g *IPaymuGateway) InterpretCallback(params map[string]string) (*domain.CallbackOutcome, error) {
	n, err := g.client.ParseNotification(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVerificationFailed, err)
	}

	outcome := &domain.CallbackOutcome{
		Reference:     n.SessionID,
		ResponseCode:  n.StatusCode,
		TransactionID: n.TrxID,
		Channel:       n.Via,
		Bank:          n.Channel,
		PaidAt:        n.PaidAt,
	}
	switch {
	case n.Succeeded():
		outcome.Status = domain.CallbackSuccess
	case n.Pending():
		outcome.Status = domain.CallbackPending
	default:
		outcome.Status = domain.CallbackFailed
		outcome.Reason = fmt.Sprintf("gateway status %q (code %s)", n.Status, n.StatusCode)
	}
	return outcome, nil
}

func (m *MockGateway) CreateCheckoutURL(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	sid := "MOCK-" + ulid.Make().String()
	return &domain.CheckoutSession{
		URL:       fmt.Sprintf("%s/pay/%s?ref=%s", m.baseURL, sid, req.PaymentID),
		Reference: sid,
	}, nil
}

func (m *MockGateway) ExtractReference(params map[string]string) (string, string) {
	return extractSID(params)
}

func (m *MockGateway) InterpretCallback(params map[string]string) (*domain.CallbackOutcome, error) {
	sid, code := extractSID(params)
	if sid == "" {
		return nil, fmt.Errorf("%w: callback has no sid", domain.ErrVerificationFailed)
	}

	outcome := &domain.CallbackOutcome{
		Reference:     sid,
		ResponseCode:  code,
		TransactionID: params["trx_id"],
		Channel:       params["via"],
		Bank:          params["channel"],
		PaidAt:        time.Now().UTC(),
	}
	switch code {
	case ipaymu.StatusCodeSuccess:
		outcome.Status = domain.CallbackSuccess
	case ipaymu.StatusCodePending:
		outcome.Status = domain.CallbackPending
	default:
		outcome.Status = domain.CallbackFailed
		outcome.Reason = fmt.Sprintf("mock gateway code %s", code)
	}
	return outcome, nil
}

func extractSID(params map[string]string) (string, string) {
	return strings.TrimSpace(params["sid"]), strings.TrimSpace(params["status_code"])
}
