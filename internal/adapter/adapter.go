// Package adapter defines the contract each payment provider adapter
// implements. Adapters own all provider-specific concerns: serialization,
// transport retries and timeouts, signature generation and verification,
// currency allow-lists, and mapping native statuses into the universal
// taxonomy. A provider rejection or transport failure is returned as a
// failed payment.Response, never as an error; errors are reserved for
// programmer and configuration mistakes.
package adapter

import (
	"context"
	"strings"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// ProviderAdapter is implemented by every payment provider integration.
type ProviderAdapter interface {
	// Provider returns the adapter's identity in the closed provider set.
	Provider() payment.Provider

	// SupportedCurrencies returns the adapter's currency allow-list.
	// Currencies outside it are rejected before any network I/O.
	SupportedCurrencies() []string

	// CreateWebPayment initiates a browser-redirect payment. The response
	// carries success=false with the provider's message on rejection.
	CreateWebPayment(ctx context.Context, req payment.Request) payment.Response

	// CheckStatus resolves the current state of a payment. The handle is
	// provider-specific: a poll URL for Paynow, a PaymentIntent id for
	// Stripe. Only the adapter knows which.
	CheckStatus(ctx context.Context, handle string) (payment.StatusResult, error)

	// HandleWebhook verifies and normalizes a raw webhook delivery.
	// Signature failures return payment.ErrInvalidSignature.
	HandleWebhook(ctx context.Context, delivery WebhookDelivery) (payment.WebhookEvent, error)
}

// MobilePayer marks an adapter that can collect over a mobile-money channel.
// The orchestrator routes mobile requests only to adapters implementing this.
type MobilePayer interface {
	ProviderAdapter

	// SupportsMobileMethod reports whether the channel is offered.
	SupportsMobileMethod(method payment.MobileMethod) bool

	CreateMobilePayment(ctx context.Context, req payment.MobileRequest) payment.Response
}

// Refunder marks an adapter that can issue refunds. A zero amount means a
// full refund. The return reports whether the provider confirmed the refund
// as settled, not merely accepted.
type Refunder interface {
	ProviderAdapter

	Refund(ctx context.Context, transactionID string, amount float64) (bool, error)
}

// WebhookDelivery is the raw material of one webhook HTTP request: the body
// plus the headers signature verification needs.
type WebhookDelivery struct {
	Body    []byte
	Headers map[string]string
}

// Registry holds the enabled adapters keyed by provider. Construction-time
// validation lives in the orchestrator; the registry itself is a plain map
// so tests can assemble arbitrary sets.
type Registry map[payment.Provider]ProviderAdapter

// CurrencySupported reports whether currency is in the adapter's allow-list.
// Comparison is case-insensitive on the ISO 4217 code.
func CurrencySupported(a ProviderAdapter, currency string) bool {
	for _, c := range a.SupportedCurrencies() {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}
