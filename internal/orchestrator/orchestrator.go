// Package orchestrator routes payment operations across the enabled provider
// adapters. It owns provider selection (a strict priority chain), the single
// synchronous primary-to-fallback failover on initiation, provider inference
// for status checks and refunds, and the derived queries over the enabled
// adapter set.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/metrics"
	"github.com/nyuchitech/payments-core/internal/orchestrator/health"
	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/policy"
)

// Payment channels offered per provider beyond the implicit web channel.
// Data, not control flow: a new provider adds a row here.
var providerMethods = map[payment.Provider][]string{
	payment.ProviderPaynow: {"web", "mobile", "ecocash", "onemoney"},
	payment.ProviderStripe: {"card", "bank_transfer", "wallet"},
}

// Orchestrator holds the enabled adapters and the configured routing order.
// Construct one instance at startup and share it by reference; it carries no
// per-request state.
type Orchestrator struct {
	registry adapter.Registry
	primary  payment.Provider
	fallback payment.Provider
	policy   *policy.Enforcer
	health   *health.Tracker
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy installs an acceptance policy evaluated before initiation.
func WithPolicy(e *policy.Enforcer) Option {
	return func(o *Orchestrator) { o.policy = e }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New validates the adapter set and routing configuration. Zero enabled
// adapters is a deployment error: there is no valid "no providers" state.
func New(registry adapter.Registry, primary, fallback payment.Provider, opts ...Option) (*Orchestrator, error) {
	if len(registry) == 0 {
		return nil, fmt.Errorf("%w: no payment providers enabled", payment.ErrConfiguration)
	}
	if !primary.Valid() {
		return nil, fmt.Errorf("%w: invalid primary provider %q", payment.ErrConfiguration, primary)
	}
	if !fallback.Valid() {
		return nil, fmt.Errorf("%w: invalid fallback provider %q", payment.ErrConfiguration, fallback)
	}

	o := &Orchestrator{
		registry: registry,
		primary:  primary,
		fallback: fallback,
		health:   health.NewTracker(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SelectProvider resolves the adapter for a new payment. The order is a
// strict priority chain: explicit preference, configured primary, configured
// fallback, then any enabled provider in the closed set's declaration order.
// No randomization, no load balancing.
func (o *Orchestrator) SelectProvider(preferred payment.Provider) (adapter.ProviderAdapter, error) {
	if preferred != "" {
		if a, ok := o.registry[preferred]; ok {
			return a, nil
		}
	}
	if a, ok := o.registry[o.primary]; ok {
		return a, nil
	}
	if a, ok := o.registry[o.fallback]; ok {
		o.logger.Warn("primary provider not enabled, using fallback",
			"primary", o.primary, "fallback", o.fallback)
		return a, nil
	}
	for _, p := range payment.Providers() {
		if a, ok := o.registry[p]; ok {
			o.logger.Warn("neither primary nor fallback enabled, using any provider", "provider", p)
			return a, nil
		}
	}
	return nil, payment.ErrNoProviderAvailable
}

// CreateWebPayment initiates a redirect payment. When the resolved provider
// is the configured primary and it fails, the configured fallback is tried
// exactly once; an explicit pin of a non-primary provider disables failover,
// and a successful initiation is never retried anywhere.
func (o *Orchestrator) CreateWebPayment(ctx context.Context, req payment.Request, preferred payment.Provider) (payment.Response, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.CreateWebPayment",
		trace.WithAttributes(attribute.String("payment.reference", req.Reference)))
	defer span.End()

	if err := req.Validate(); err != nil {
		return payment.Response{}, err
	}

	selected, err := o.SelectProvider(preferred)
	if err != nil {
		return payment.Response{}, err
	}

	if rejected, resp := o.rejectedByPolicy(req, selected.Provider(), ""); rejected {
		return resp, nil
	}

	resp := o.initiate(ctx, selected, req)
	if resp.Success {
		return resp, nil
	}

	// Single failover: only from the configured primary, only when the
	// caller did not pin a different provider, and only to a distinct
	// enabled fallback.
	if selected.Provider() != o.primary {
		return resp, nil
	}
	if preferred != "" && preferred != o.primary {
		return resp, nil
	}
	fallbackAdapter, ok := o.registry[o.fallback]
	if !ok || o.fallback == selected.Provider() {
		return resp, nil
	}

	o.logger.Warn("primary provider failed, trying fallback",
		"reference", req.Reference,
		"primary", o.primary, "fallback", o.fallback,
		"error", resp.Error)
	metrics.Failovers.WithLabelValues(o.primary.String(), o.fallback.String()).Inc()
	span.AddEvent("failover", trace.WithAttributes(
		attribute.String("from", o.primary.String()),
		attribute.String("to", o.fallback.String()),
	))

	return o.initiate(ctx, fallbackAdapter, req), nil
}

// initiate runs one provider attempt and records health and metrics.
func (o *Orchestrator) initiate(ctx context.Context, a adapter.ProviderAdapter, req payment.Request) payment.Response {
	start := time.Now()
	resp := a.CreateWebPayment(ctx, req)
	o.observe(a.Provider(), "create_web_payment", "web", start, resp.Success)
	return resp
}

// CreateMobilePayment routes to an adapter advertising the mobile capability
// and channel. A missing capability is a structured failure naming the gap,
// not an error: the caller can persist and display it.
func (o *Orchestrator) CreateMobilePayment(ctx context.Context, req payment.MobileRequest) (payment.Response, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.CreateMobilePayment",
		trace.WithAttributes(attribute.String("payment.reference", req.Reference)))
	defer span.End()

	if err := req.Validate(); err != nil {
		return payment.Response{}, err
	}

	mobile := o.mobilePayerFor(req.MobileMethod)
	if mobile == nil {
		return payment.Response{
			Success:   false,
			Provider:  o.primary,
			Reference: req.Reference,
			Amount:    req.Total(),
			Currency:  req.Currency,
			Error:     fmt.Sprintf("no enabled provider supports mobile payments via %s", req.MobileMethod),
		}, nil
	}

	if rejected, resp := o.rejectedByPolicy(req.Request, mobile.Provider(), req.MobileMethod); rejected {
		return resp, nil
	}

	start := time.Now()
	resp := mobile.CreateMobilePayment(ctx, req)
	o.observe(mobile.Provider(), "create_mobile_payment", "mobile", start, resp.Success)
	return resp, nil
}

// mobilePayerFor finds the highest-priority enabled adapter that collects
// over the given channel.
func (o *Orchestrator) mobilePayerFor(method payment.MobileMethod) adapter.MobilePayer {
	for _, p := range o.priorityOrder() {
		a, ok := o.registry[p]
		if !ok {
			continue
		}
		mobile, ok := a.(adapter.MobilePayer)
		if ok && mobile.SupportsMobileMethod(method) {
			return mobile
		}
	}
	return nil
}

// CheckPaymentStatus resolves a payment's current state. An explicit
// provider is authoritative; otherwise inference from the handle's shape is
// tried first, then the primary, then every enabled provider. Exhausting all
// of them is ErrStatusUnavailable, which is not a payment failure.
func (o *Orchestrator) CheckPaymentStatus(ctx context.Context, handle string, provider payment.Provider) (payment.StatusResult, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.CheckPaymentStatus")
	defer span.End()

	if provider != "" {
		a, ok := o.registry[provider]
		if !ok {
			return payment.StatusResult{}, fmt.Errorf("%w: provider %s not enabled", payment.ErrNoProviderAvailable, provider)
		}
		return o.checkWith(ctx, a, handle)
	}

	tried := make(map[payment.Provider]bool)

	if inferred, ok := InferProvider(handle); ok {
		if a, enabled := o.registry[inferred]; enabled {
			result, err := o.checkWith(ctx, a, handle)
			if err == nil {
				return result, nil
			}
			tried[inferred] = true
			o.logger.Warn("inferred provider failed status check",
				"provider", inferred, "error", err)
		}
	}

	for _, p := range o.priorityOrder() {
		if tried[p] {
			continue
		}
		a, ok := o.registry[p]
		if !ok {
			continue
		}
		result, err := o.checkWith(ctx, a, handle)
		if err == nil {
			return result, nil
		}
		tried[p] = true
		o.logger.Warn("provider failed status check", "provider", p, "error", err)
	}
	return payment.StatusResult{}, payment.ErrStatusUnavailable
}

func (o *Orchestrator) checkWith(ctx context.Context, a adapter.ProviderAdapter, handle string) (payment.StatusResult, error) {
	start := time.Now()
	result, err := a.CheckStatus(ctx, handle)
	o.observeDuration(a.Provider(), "check_status", start)
	if err != nil {
		o.health.RecordFailure(a.Provider())
		return payment.StatusResult{}, err
	}
	o.health.RecordSuccess(a.Provider())
	return result, nil
}

// RefundPayment issues a full refund when amount is zero, a partial refund
// otherwise. The provider is resolved like a status check; an adapter
// without the refund capability is ErrRefundUnsupported.
func (o *Orchestrator) RefundPayment(ctx context.Context, transactionID string, amount float64, provider payment.Provider) (bool, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.RefundPayment")
	defer span.End()

	resolved := provider
	if resolved == "" {
		if inferred, ok := InferProvider(transactionID); ok {
			resolved = inferred
		} else {
			resolved = o.primary
		}
	}

	a, ok := o.registry[resolved]
	if !ok {
		return false, fmt.Errorf("%w: provider %s not enabled", payment.ErrNoProviderAvailable, resolved)
	}
	refunder, ok := a.(adapter.Refunder)
	if !ok {
		return false, fmt.Errorf("%w: %s", payment.ErrRefundUnsupported, resolved)
	}

	start := time.Now()
	settled, err := refunder.Refund(ctx, transactionID, amount)
	o.observeDuration(resolved, "refund", start)
	if err != nil {
		o.health.RecordFailure(resolved)
		return false, err
	}
	o.health.RecordSuccess(resolved)
	return settled, nil
}

// AvailablePaymentMethods derives the payment channels usable for a currency
// from the currently enabled adapters only. The region parameter is accepted
// for forward compatibility and currently unused by both providers.
func (o *Orchestrator) AvailablePaymentMethods(currency, region string) []string {
	var methods []string
	for _, p := range payment.Providers() {
		a, ok := o.registry[p]
		if !ok {
			continue
		}
		if currency != "" && !adapter.CurrencySupported(a, currency) {
			continue
		}
		methods = append(methods, providerMethods[p]...)
	}
	return methods
}

// SupportedCurrencies is the union of enabled adapters' allow-lists,
// deduplicated, in provider declaration order.
func (o *Orchestrator) SupportedCurrencies() []string {
	seen := make(map[string]bool)
	var currencies []string
	for _, p := range payment.Providers() {
		a, ok := o.registry[p]
		if !ok {
			continue
		}
		for _, c := range a.SupportedCurrencies() {
			if !seen[c] {
				seen[c] = true
				currencies = append(currencies, c)
			}
		}
	}
	return currencies
}

// CalculateFees estimates the provider fee for an amount. Pure, no I/O.
func (o *Orchestrator) CalculateFees(amount float64, provider payment.Provider) float64 {
	if provider == "" {
		provider = o.primary
	}
	return payment.FeeFor(provider, amount)
}

// GeneratePaymentReference produces a collision-resistant caller reference.
func (o *Orchestrator) GeneratePaymentReference(prefix string) string {
	return payment.GenerateReference(prefix)
}

// ProviderState describes one provider on the status surface.
type ProviderState struct {
	Enabled bool   `json:"enabled"`
	Health  string `json:"health"`
}

// ProviderStatus reports which providers are enabled and their tracked
// health, plus whether the configured primary and fallback are live.
func (o *Orchestrator) ProviderStatus() map[string]ProviderState {
	status := make(map[string]ProviderState, len(payment.Providers())+2)
	for _, p := range payment.Providers() {
		_, enabled := o.registry[p]
		status[p.String()] = ProviderState{
			Enabled: enabled,
			Health:  o.health.StateOf(p).String(),
		}
	}
	_, primaryEnabled := o.registry[o.primary]
	_, fallbackEnabled := o.registry[o.fallback]
	status["primary"] = ProviderState{Enabled: primaryEnabled, Health: o.health.StateOf(o.primary).String()}
	status["fallback"] = ProviderState{Enabled: fallbackEnabled, Health: o.health.StateOf(o.fallback).String()}
	return status
}

// priorityOrder lists providers in routing priority: primary, fallback,
// then the rest of the closed set in declaration order.
func (o *Orchestrator) priorityOrder() []payment.Provider {
	order := []payment.Provider{o.primary}
	if o.fallback != o.primary {
		order = append(order, o.fallback)
	}
	for _, p := range payment.Providers() {
		if p != o.primary && p != o.fallback {
			order = append(order, p)
		}
	}
	return order
}

func (o *Orchestrator) rejectedByPolicy(req payment.Request, provider payment.Provider, method payment.MobileMethod) (bool, payment.Response) {
	if o.policy == nil {
		return false, payment.Response{}
	}
	decision := o.policy.Evaluate(req, provider, method)
	if decision.Allowed {
		return false, payment.Response{}
	}
	o.logger.Warn("payment rejected by policy",
		"reference", req.Reference, "rule", decision.Rule)
	return true, payment.Response{
		Success:   false,
		Provider:  provider,
		Reference: req.Reference,
		Amount:    req.Total(),
		Currency:  req.Currency,
		Error:     decision.Reason,
	}
}

func (o *Orchestrator) observe(p payment.Provider, operation, channel string, start time.Time, success bool) {
	o.observeDuration(p, operation, start)
	outcome := "failure"
	if success {
		outcome = "success"
		o.health.RecordSuccess(p)
	} else {
		o.health.RecordFailure(p)
	}
	metrics.PaymentsInitiated.WithLabelValues(p.String(), channel, outcome).Inc()
}

func (o *Orchestrator) observeDuration(p payment.Provider, operation string, start time.Time) {
	metrics.ProviderCallDuration.WithLabelValues(p.String(), operation).Observe(time.Since(start).Seconds())
}
