// Package mock provides a configurable in-memory ProviderAdapter for tests.
// It records call counts so tests can assert how many times each provider
// was invoked during failover.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/payment"
)

// Adapter is a test double for any provider. Behavior is overridden per test
// through the *Func fields; unset funcs fall back to a successful default.
type Adapter struct {
	Name           payment.Provider
	Currencies     []string
	MobileMethods  []payment.MobileMethod
	CreateWebFunc  func(ctx context.Context, req payment.Request) payment.Response
	CreateMobFunc  func(ctx context.Context, req payment.MobileRequest) payment.Response
	CheckFunc      func(ctx context.Context, handle string) (payment.StatusResult, error)
	WebhookFunc    func(ctx context.Context, delivery adapter.WebhookDelivery) (payment.WebhookEvent, error)
	RefundFunc     func(ctx context.Context, transactionID string, amount float64) (bool, error)

	mu            sync.Mutex
	createCalls   int
	mobileCalls   int
	checkCalls    int
	refundCalls   int
	lastRefundAmt float64
}

// New returns a mock adapter that succeeds at everything and supports USD.
func New(name payment.Provider) *Adapter {
	return &Adapter{Name: name, Currencies: []string{"USD"}}
}

func (m *Adapter) Provider() payment.Provider { return m.Name }

func (m *Adapter) SupportedCurrencies() []string {
	if len(m.Currencies) == 0 {
		return []string{"USD"}
	}
	return m.Currencies
}

func (m *Adapter) SupportsMobileMethod(method payment.MobileMethod) bool {
	for _, supported := range m.MobileMethods {
		if supported == method {
			return true
		}
	}
	return false
}

func (m *Adapter) CreateWebPayment(ctx context.Context, req payment.Request) payment.Response {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()

	if m.CreateWebFunc != nil {
		return m.CreateWebFunc(ctx, req)
	}
	return m.defaultSuccess(req)
}

func (m *Adapter) CreateMobilePayment(ctx context.Context, req payment.MobileRequest) payment.Response {
	m.mu.Lock()
	m.mobileCalls++
	m.mu.Unlock()

	if m.CreateMobFunc != nil {
		return m.CreateMobFunc(ctx, req)
	}
	resp := m.defaultSuccess(req.Request)
	resp.Instructions = fmt.Sprintf("dial *151# to approve %s payment", req.MobileMethod)
	resp.RedirectURL = ""
	return resp
}

func (m *Adapter) CheckStatus(ctx context.Context, handle string) (payment.StatusResult, error) {
	m.mu.Lock()
	m.checkCalls++
	m.mu.Unlock()

	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, handle)
	}
	return payment.StatusResult{
		Reference:     handle,
		TransactionID: handle,
		Provider:      m.Name,
		Status:        payment.StatusSucceeded,
		Paid:          true,
		Currency:      "USD",
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

func (m *Adapter) HandleWebhook(ctx context.Context, delivery adapter.WebhookDelivery) (payment.WebhookEvent, error) {
	if m.WebhookFunc != nil {
		return m.WebhookFunc(ctx, delivery)
	}
	return payment.WebhookEvent{
		Provider:  m.Name,
		EventType: "payment.status_changed",
		Status:    payment.StatusSucceeded,
		Raw:       delivery.Body,
	}, nil
}

func (m *Adapter) Refund(ctx context.Context, transactionID string, amount float64) (bool, error) {
	m.mu.Lock()
	m.refundCalls++
	m.lastRefundAmt = amount
	m.mu.Unlock()

	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, transactionID, amount)
	}
	return true, nil
}

// WebOnly narrows a mock to the base ProviderAdapter interface so capability
// type assertions (MobilePayer, Refunder) fail, matching a provider without
// those channels.
type WebOnly struct {
	adapter.ProviderAdapter
}

// NewWebOnly wraps m, hiding its mobile and refund methods.
func NewWebOnly(m *Adapter) WebOnly { return WebOnly{ProviderAdapter: m} }

func (m *Adapter) defaultSuccess(req payment.Request) payment.Response {
	return payment.Response{
		Success:       true,
		Provider:      m.Name,
		Reference:     req.Reference,
		TransactionID: "txn_" + uuid.NewString(),
		RedirectURL:   "https://pay.example.test/" + req.Reference,
		Amount:        req.Total(),
		Currency:      req.Currency,
	}
}

// CreateCalls reports how many web initiations were attempted.
func (m *Adapter) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// MobileCalls reports how many mobile initiations were attempted.
func (m *Adapter) MobileCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mobileCalls
}

// CheckCalls reports how many status checks were attempted.
func (m *Adapter) CheckCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkCalls
}

// RefundCalls reports refund attempts and the last amount requested.
func (m *Adapter) RefundCalls() (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refundCalls, m.lastRefundAmt
}
