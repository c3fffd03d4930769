// Package payment holds the provider-agnostic domain model for the payment
// orchestration core: the closed set of provider identifiers, the universal
// status taxonomy with per-provider mapping tables, request/response shapes,
// fee schedules and reference generation.
package payment

import (
	"fmt"
	"time"
)

// Provider identifies a configured payment provider. The set is closed;
// an unknown name is a construction-time error, never a runtime lookup miss.
type Provider string

const (
	ProviderPaynow Provider = "paynow"
	ProviderStripe Provider = "stripe"
)

// Providers lists every known provider in priority-neutral order.
func Providers() []Provider {
	return []Provider{ProviderPaynow, ProviderStripe}
}

// ParseProvider validates a provider name from config or an API payload.
func ParseProvider(name string) (Provider, error) {
	switch Provider(name) {
	case ProviderPaynow, ProviderStripe:
		return Provider(name), nil
	}
	return "", fmt.Errorf("payment: unknown provider %q", name)
}

// Valid reports whether p is a member of the closed provider set.
func (p Provider) Valid() bool {
	_, err := ParseProvider(string(p))
	return err == nil
}

func (p Provider) String() string { return string(p) }

// MobileMethod is a mobile-money collection channel. Only Paynow carries
// mobile channels today.
type MobileMethod string

const (
	MobileEcocash  MobileMethod = "ecocash"
	MobileOneMoney MobileMethod = "onemoney"
)

// ParseMobileMethod validates a mobile method from an API payload.
func ParseMobileMethod(name string) (MobileMethod, error) {
	switch MobileMethod(name) {
	case MobileEcocash, MobileOneMoney:
		return MobileMethod(name), nil
	}
	return "", fmt.Errorf("payment: unknown mobile method %q", name)
}

// Item is a single line item in a payment request.
type Item struct {
	Name        string  `json:"name"`
	UnitAmount  float64 `json:"unitAmount"`
	Quantity    int     `json:"quantity"`
	Description string  `json:"description,omitempty"`
}

// Request describes a payment to be initiated. The total amount is always
// derived from the items, never stored independently.
type Request struct {
	Reference      string            `json:"reference"`
	Email          string            `json:"email"`
	Items          []Item            `json:"items"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	PayerID        string            `json:"payerId,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
}

// Total computes the request amount as the sum of unit amount times quantity.
// A zero quantity counts as one, matching how items arrive from callers that
// omit the field.
func (r Request) Total() float64 {
	var total float64
	for _, item := range r.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		total += item.UnitAmount * float64(qty)
	}
	return total
}

// Validate checks the structural invariants of a request before any provider
// is consulted.
func (r Request) Validate() error {
	if r.Reference == "" {
		return fmt.Errorf("payment: reference is required")
	}
	if r.Email == "" {
		return fmt.Errorf("payment: payer email is required")
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("payment: at least one item is required")
	}
	if r.Currency == "" {
		return fmt.Errorf("payment: currency is required")
	}
	for i, item := range r.Items {
		if item.Name == "" {
			return fmt.Errorf("payment: item %d has no name", i)
		}
		if item.UnitAmount < 0 {
			return fmt.Errorf("payment: item %q has negative unit amount", item.Name)
		}
	}
	return nil
}

// MobileRequest is a Request collected over a mobile-money channel.
type MobileRequest struct {
	Request
	PhoneNumber  string       `json:"phoneNumber"`
	MobileMethod MobileMethod `json:"mobileMethod"`
}

// Validate extends Request.Validate with the mobile channel fields.
func (r MobileRequest) Validate() error {
	if err := r.Request.Validate(); err != nil {
		return err
	}
	if r.PhoneNumber == "" {
		return fmt.Errorf("payment: phone number is required for mobile payments")
	}
	if _, err := ParseMobileMethod(string(r.MobileMethod)); err != nil {
		return err
	}
	return nil
}

// Response is the synchronous result of a payment initiation, normalized
// across providers. Exactly one of RedirectURL (web) or Instructions (mobile)
// is meaningful; both may be absent for purely asynchronous flows.
type Response struct {
	Success       bool     `json:"success"`
	Provider      Provider `json:"provider"`
	Reference     string   `json:"reference"`
	TransactionID string   `json:"transactionId,omitempty"`
	RedirectURL   string   `json:"redirectUrl,omitempty"`
	Instructions  string   `json:"instructions,omitempty"`
	PollToken     string   `json:"pollToken,omitempty"`
	Amount        float64  `json:"amount"`
	Currency      string   `json:"currency"`
	Error         string   `json:"error,omitempty"`
}

// StatusResult is the reconciled view of a payment returned by a status
// check. Paid is true iff Status is StatusSucceeded.
type StatusResult struct {
	Reference         string            `json:"reference"`
	TransactionID     string            `json:"transactionId"`
	Provider          Provider          `json:"provider"`
	Status            UniversalStatus   `json:"status"`
	Paid              bool              `json:"paid"`
	Amount            float64           `json:"amount"`
	Currency          string            `json:"currency"`
	PaidAmount        float64           `json:"paidAmount,omitempty"`
	ProviderReference string            `json:"providerReference,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// WebhookEvent is the normalized form of a provider webhook delivery.
// Raw keeps the verbatim payload for audit and is never interpreted past
// the mapping step.
type WebhookEvent struct {
	Provider      Provider        `json:"provider"`
	EventType     string          `json:"eventType"`
	Reference     string          `json:"reference"`
	Status        UniversalStatus `json:"status"`
	Amount        float64         `json:"amount,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Raw           []byte          `json:"-"`
}
