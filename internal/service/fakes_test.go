package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
)

// memStore backs the in-memory repositories. Transactions are serialized and
// roll back by restoring a snapshot.
type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	invoices map[string]domain.Invoice
	payments map[string]domain.Payment
	methods  map[string]domain.PaymentMethod
	seq      int
	// completions counts every payment transition to completed ever applied
	completions map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		invoices:    map[string]domain.Invoice{},
		payments:    map[string]domain.Payment{},
		methods:     map[string]domain.PaymentMethod{},
		completions: map[string]int{},
	}
}

func (s *memStore) snapshot() (map[string]domain.Invoice, map[string]domain.Payment, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := make(map[string]domain.Invoice, len(s.invoices))
	for k, v := range s.invoices {
		inv[k] = v
	}
	pay := make(map[string]domain.Payment, len(s.payments))
	for k, v := range s.payments {
		pay[k] = v
	}
	comp := make(map[string]int, len(s.completions))
	for k, v := range s.completions {
		comp[k] = v
	}
	return inv, pay, comp
}

func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	inv, pay, comp := s.snapshot()
	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.invoices, s.payments, s.completions = inv, pay, comp
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) paymentsFor(invoiceID string) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) invoice(id string) domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

type memInvoices struct{ s *memStore }

func (r memInvoices) Create(_ context.Context, inv *domain.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if inv.Status == "" {
		inv.Status = domain.InvoiceStatusPending
	}
	r.s.invoices[inv.ID] = *inv
	return nil
}

func (r memInvoices) GetByID(_ context.Context, id string) (*domain.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}

func (r memInvoices) MarkPaid(_ context.Context, id, method string, paidAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return domain.ErrNotFound
	}
	if inv.Status != domain.InvoiceStatusPending {
		return domain.ErrStaleWrite
	}
	inv.Status = domain.InvoiceStatusPaid
	inv.PaymentMethod = method
	inv.PaidAt = &paidAt
	inv.UpdatedAt = time.Now().UTC()
	r.s.invoices[id] = inv
	return nil
}

type memMethods struct{ s *memStore }

func (r memMethods) Create(_ context.Context, m *domain.PaymentMethod) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.methods[m.ID] = *m
	return nil
}

func (r memMethods) GetByID(_ context.Context, id string) (*domain.PaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.methods[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

type memPayments struct{ s *memStore }

func (r memPayments) Create(_ context.Context, p *domain.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	if p.ID == "" {
		p.ID = fmt.Sprintf("pay-%03d", r.s.seq)
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.s.payments[p.ID] = *p
	return nil
}

func (r memPayments) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r memPayments) GetByGatewayReference(_ context.Context, ref string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.GatewayReference != nil && *p.GatewayReference == ref {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memPayments) GetCompletedByInvoice(_ context.Context, invoiceID string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.InvoiceID == invoiceID && p.Status == domain.PaymentStatusCompleted {
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memPayments) ListByInvoice(_ context.Context, invoiceID string) ([]*domain.Payment, error) {
	out := []*domain.Payment{}
	for _, p := range r.s.paymentsFor(invoiceID) {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (r memPayments) SetGatewayReference(_ context.Context, id, ref string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PaymentStatusPending {
		return domain.ErrStaleWrite
	}
	p.GatewayReference = &ref
	r.s.payments[id] = p
	return nil
}

func (r memPayments) Transition(_ context.Context, id string, u domain.PaymentUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PaymentStatusPending {
		return domain.ErrStaleWrite
	}
	if u.Status == domain.PaymentStatusCompleted {
		for _, other := range r.s.payments {
			if other.InvoiceID == p.InvoiceID && other.Status == domain.PaymentStatusCompleted {
				return domain.ErrStaleWrite
			}
		}
		r.s.completions[p.InvoiceID]++
	}
	p.Status = u.Status
	if u.TransactionID != nil {
		p.TransactionID = u.TransactionID
	}
	if u.GatewayReference != nil {
		p.GatewayReference = u.GatewayReference
	}
	if u.Notes != "" {
		p.Notes = u.Notes
	}
	if u.ProcessedAt != nil {
		p.ProcessedAt = u.ProcessedAt
	}
	p.UpdatedAt = time.Now().UTC()
	r.s.payments[id] = p
	return nil
}

// memLocker is a process-local domain.Locker
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	seq   int
	fails bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[string]string{}}
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	if l.fails {
		return "", false, fmt.Errorf("redis: connection refused")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.seq++
	token := fmt.Sprintf("tok-%d", l.seq)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// stubProcessor returns a fixed result and counts calls
type stubProcessor struct {
	result *domain.ProcessorResult
	err    error
	block  bool
	delay  time.Duration
	calls  atomic.Int32
}

func (p *stubProcessor) Channel() string { return domain.PaymentChannelSimulated }

func (p *stubProcessor) MinimumAmount() int64 { return 0 }

func (p *stubProcessor) Attempt(ctx context.Context, _ *domain.Payment, _ *domain.Invoice, _ *domain.PaymentMethod) (*domain.ProcessorResult, error) {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	r := *p.result
	return &r, nil
}

// stubGateway answers checkouts with sequential references and interprets
// callbacks from plain sid/status_code parameters.
type stubGateway struct {
	mu            sync.Mutex
	seq           int
	createErr     error
	panics        bool
	extractPanics bool
	reject        bool
	lastReq       domain.CheckoutRequest
}

func (g *stubGateway) CreateCheckoutURL(_ context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.lastReq = req
	ref := fmt.Sprintf("sid-%d", g.seq)
	return &domain.CheckoutSession{URL: "https://gw.test/pay/" + ref, Reference: ref}, nil
}

func (g *stubGateway) ExtractReference(params map[string]string) (string, string) {
	if g.extractPanics {
		panic("malformed callback")
	}
	return params["sid"], params["status_code"]
}

func (g *stubGateway) InterpretCallback(params map[string]string) (*domain.CallbackOutcome, error) {
	if g.panics {
		panic("gateway exploded")
	}
	if g.reject {
		return nil, fmt.Errorf("%w: bad signature", domain.ErrVerificationFailed)
	}
	out := &domain.CallbackOutcome{
		Reference:     params["sid"],
		ResponseCode:  params["status_code"],
		TransactionID: params["trx_id"],
		Channel:       "va",
		Bank:          "bca",
		PaidAt:        time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
	switch params["status_code"] {
	case "1":
		out.Status = domain.CallbackSuccess
	case "0":
		out.Status = domain.CallbackPending
	default:
		out.Status = domain.CallbackFailed
		out.Reason = "expired"
	}
	return out, nil
}
