// Package checkout assembles validated payment requests from API input,
// the authenticated caller and configured defaults: reference generation,
// currency defaulting and metadata stamping happen here so the orchestrator
// always sees a complete request.
package checkout

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nyuchitech/payments-core/internal/identity"
	"github.com/nyuchitech/payments-core/internal/payment"
)

// Input is the caller-supplied portion of a payment.
type Input struct {
	Items          []payment.Item    `json:"items"`
	Currency       string            `json:"currency"`
	Description    string            `json:"description,omitempty"`
	OrganizationID string            `json:"organizationId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// MobileInput extends Input with the mobile collection channel.
type MobileInput struct {
	Input
	PhoneNumber  string `json:"phoneNumber"`
	MobileMethod string `json:"mobileMethod"`
}

// Builder turns Input into validated payment requests.
type Builder struct {
	defaultCurrency string
	tracer          trace.Tracer
}

// NewBuilder creates a Builder. An empty defaultCurrency falls back to USD.
func NewBuilder(defaultCurrency string) *Builder {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Builder{
		defaultCurrency: defaultCurrency,
		tracer:          otel.Tracer("checkout"),
	}
}

// BuildWebRequest produces a complete web payment request with a fresh
// reference. The reference prefix embeds the organization so support staff
// can eyeball ownership.
func (b *Builder) BuildWebRequest(ctx context.Context, caller identity.Caller, in Input) (payment.Request, error) {
	_, span := b.tracer.Start(ctx, "Checkout.BuildWebRequest")
	defer span.End()

	req := b.assemble(caller, in, "ORG")
	if err := req.Validate(); err != nil {
		return payment.Request{}, err
	}
	return req, nil
}

// BuildMobileRequest produces a complete mobile payment request.
func (b *Builder) BuildMobileRequest(ctx context.Context, caller identity.Caller, in MobileInput) (payment.MobileRequest, error) {
	_, span := b.tracer.Start(ctx, "Checkout.BuildMobileRequest")
	defer span.End()

	method, err := payment.ParseMobileMethod(in.MobileMethod)
	if err != nil {
		return payment.MobileRequest{}, err
	}
	req := payment.MobileRequest{
		Request:      b.assemble(caller, in.Input, "MOB"),
		PhoneNumber:  in.PhoneNumber,
		MobileMethod: method,
	}
	if err := req.Validate(); err != nil {
		return payment.MobileRequest{}, err
	}
	return req, nil
}

func (b *Builder) assemble(caller identity.Caller, in Input, prefix string) payment.Request {
	currency := in.Currency
	if currency == "" {
		currency = b.defaultCurrency
	}
	organizationID := in.OrganizationID
	if organizationID == "" {
		organizationID = caller.OrganizationID
	}
	if organizationID != "" {
		prefix = prefix + "-" + organizationID
	}

	metadata := make(map[string]string, len(in.Metadata)+3)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata["userId"] = caller.ID
	if organizationID != "" {
		metadata["organizationId"] = organizationID
	}
	metadata["initiatedAt"] = time.Now().UTC().Format(time.RFC3339)

	return payment.Request{
		Reference:      payment.GenerateReference(prefix),
		Email:          caller.Email,
		Items:          in.Items,
		Currency:       currency,
		Description:    in.Description,
		Metadata:       metadata,
		PayerID:        caller.ID,
		OrganizationID: organizationID,
	}
}
