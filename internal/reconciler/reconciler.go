// Package reconciler applies verified webhook events to persisted payment
// records. It is a state machine over the universal status taxonomy: a
// record never leaves a terminal state except along the documented
// succeeded-to-refunded edge, replayed deliveries are idempotent no-ops, and
// the downstream activation side effect fires exactly once on the first
// transition into succeeded.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/metrics"
	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/store"
)

// ActivationFunc runs the downstream effect of a settled payment, e.g.
// marking a subscription active. It must tolerate being retried for
// different payments but is guaranteed at most one call per payment.
type ActivationFunc func(ctx context.Context, record *store.PaymentRecord) error

// TransitionPublisher receives every applied status transition, e.g. for a
// Kafka topic feeding downstream consumers. Publish failures are logged,
// never allowed to fail the webhook acknowledgment.
type TransitionPublisher interface {
	Publish(ctx context.Context, event payment.WebhookEvent, previous payment.UniversalStatus) error
}

// Outcome describes what a delivery did to persisted state.
type Outcome struct {
	Applied  bool
	Previous payment.UniversalStatus
	Current  payment.UniversalStatus
	Reason   string // set when not applied
}

// Reconciler wires verified events into the store.
type Reconciler struct {
	store     store.PaymentStore
	activate  ActivationFunc
	publisher TransitionPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithActivation installs the exactly-once success side effect.
func WithActivation(fn ActivationFunc) Option {
	return func(r *Reconciler) { r.activate = fn }
}

// WithPublisher installs a transition publisher.
func WithPublisher(p TransitionPublisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a Reconciler over the given store.
func New(s store.PaymentStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  s,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessDelivery verifies a raw webhook delivery through the provider's
// adapter and applies the resulting event. An invalid signature rejects the
// delivery entirely: the raw payload is preserved for audit and no state is
// mutated. The returned error is payment.ErrInvalidSignature in that case so
// the HTTP layer can shape the acknowledgment per provider.
func (r *Reconciler) ProcessDelivery(ctx context.Context, a adapter.ProviderAdapter, delivery adapter.WebhookDelivery) (Outcome, error) {
	provider := a.Provider()

	event, err := a.HandleWebhook(ctx, delivery)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, payment.ErrInvalidSignature) {
			reason = "invalid_signature"
		}
		metrics.WebhookRejected.WithLabelValues(provider.String(), reason).Inc()
		r.logger.Warn("webhook delivery rejected", "provider", provider, "reason", reason, "error", err)
		if logErr := r.store.LogWebhookError(ctx, provider, err.Error(), delivery.Body); logErr != nil {
			r.logger.Error("failed to log webhook error", "provider", provider, "error", logErr)
		}
		return Outcome{Reason: reason}, err
	}

	return r.Apply(ctx, event)
}

// Apply runs one normalized event through the state machine.
func (r *Reconciler) Apply(ctx context.Context, event payment.WebhookEvent) (Outcome, error) {
	metrics.WebhookEvents.WithLabelValues(event.Provider.String(), event.Status.String()).Inc()

	if err := r.store.LogWebhook(ctx, store.WebhookLog{
		Provider:    event.Provider,
		EventType:   event.EventType,
		Reference:   event.Reference,
		Status:      event.Status,
		Amount:      event.Amount,
		Currency:    event.Currency,
		Raw:         event.Raw,
		ProcessedAt: r.now().UTC(),
	}); err != nil {
		r.logger.Error("failed to write webhook audit entry",
			"provider", event.Provider, "reference", event.Reference, "error", err)
	}

	record, err := r.lookup(ctx, event)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.WebhookRejected.WithLabelValues(event.Provider.String(), "unknown_reference").Inc()
			r.logger.Warn("webhook event for unknown payment",
				"provider", event.Provider, "reference", event.Reference,
				"transaction_id", event.TransactionID)
			return Outcome{Reason: "unknown_reference"}, nil
		}
		return Outcome{}, errors.Wrap(err, "look up payment record")
	}

	previous := record.Status

	// Same state again is a replayed delivery: idempotent no-op, no
	// anomaly. The activation guard below depends on this.
	if previous == event.Status {
		return Outcome{Previous: previous, Current: previous, Reason: "duplicate"}, nil
	}

	if previous.Terminal() && !(previous == payment.StatusSucceeded && event.Status == payment.StatusRefunded) {
		metrics.ReconcileAnomalies.WithLabelValues(event.Provider.String(), "terminal_violation").Inc()
		r.logger.Warn("rejected transition out of terminal state",
			"reference", record.Reference, "from", previous, "to", event.Status)
		return Outcome{Previous: previous, Current: previous, Reason: "terminal_state"}, nil
	}

	applied, err := r.store.CompareAndSetStatus(ctx, record.Reference, previous, event.Status, event.TransactionID, r.now().UTC())
	if err != nil {
		return Outcome{}, errors.Wrap(err, "apply status transition")
	}
	if !applied {
		// A concurrent delivery moved the record first. Its handler owns
		// the side effects.
		r.logger.Info("status transition lost compare-and-set race",
			"reference", record.Reference, "from", previous, "to", event.Status)
		return Outcome{Previous: previous, Current: previous, Reason: "concurrent_update"}, nil
	}

	r.logger.Info("payment status transition applied",
		"reference", record.Reference, "provider", event.Provider,
		"from", previous, "to", event.Status)

	// First entry into succeeded fires the activation. The compare-and-set
	// above guarantees exactly one delivery wins that transition, so the
	// effect cannot double-fire on replays.
	if event.Status == payment.StatusSucceeded && r.activate != nil {
		record.Status = payment.StatusSucceeded
		if err := r.activate(ctx, record); err != nil {
			r.logger.Error("payment activation failed",
				"reference", record.Reference, "error", err)
		} else {
			metrics.Activations.Inc()
		}
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, event, previous); err != nil {
			r.logger.Error("failed to publish status transition",
				"reference", record.Reference, "error", err)
		}
	}

	return Outcome{Applied: true, Previous: previous, Current: event.Status}, nil
}

// lookup resolves the record by reference first, then transaction id.
func (r *Reconciler) lookup(ctx context.Context, event payment.WebhookEvent) (*store.PaymentRecord, error) {
	record, err := r.store.GetPayment(ctx, event.Reference)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, store.ErrNotFound) || event.TransactionID == "" {
		return nil, err
	}
	return r.store.GetPayment(ctx, event.TransactionID)
}
