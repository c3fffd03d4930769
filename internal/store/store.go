// Package store defines the persistence contract the payment core consumes.
// The core assumes atomic upsert-by-reference semantics and relies on
// compare-and-set status updates so a late-arriving earlier-state write can
// never clobber a terminal state: webhook delivery order across providers is
// not guaranteed.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// ErrNotFound is returned when no payment record matches the given
// reference or transaction id.
var ErrNotFound = errors.New("store: payment record not found")

// PaymentRecord is the persisted view of one payment, keyed by the
// caller-unique reference and, once known, the provider transaction id.
type PaymentRecord struct {
	ID             uuid.UUID
	Reference      string
	TransactionID  string
	PollToken      string
	Provider       payment.Provider
	PayerID        string
	OrganizationID string
	Email          string
	Amount         float64
	Currency       string
	Status         payment.UniversalStatus
	Description    string
	Items          []payment.Item
	LastEventAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WebhookLog is one audit entry for a processed or rejected webhook
// delivery. Raw retains the verbatim payload.
type WebhookLog struct {
	ID          uuid.UUID
	Provider    payment.Provider
	EventType   string
	Reference   string
	Status      payment.UniversalStatus
	Amount      float64
	Currency    string
	Raw         []byte
	ProcessedAt time.Time
}

// PaymentStore is the persistence contract. Implementations must make
// CreatePayment an upsert keyed on reference and CompareAndSetStatus an
// atomic conditional write.
type PaymentStore interface {
	// CreatePayment persists a new record, normally in StatusPending,
	// before any provider is called.
	CreatePayment(ctx context.Context, record *PaymentRecord) error

	// GetPayment looks a record up by reference or transaction id.
	GetPayment(ctx context.Context, handle string) (*PaymentRecord, error)

	// RecordInitiation attaches the synchronous initiation outcome:
	// transaction id, poll token, owning provider, and the resulting
	// status (processing on success, failed otherwise).
	RecordInitiation(ctx context.Context, reference string, resp payment.Response) error

	// CompareAndSetStatus moves the record from expected to next only if
	// its stored status still equals expected, updating the transaction
	// id and last-event timestamp when the write applies. The boolean
	// reports whether the write happened.
	CompareAndSetStatus(ctx context.Context, reference string, expected, next payment.UniversalStatus, transactionID string, eventAt time.Time) (bool, error)

	// LogWebhook appends a webhook audit entry.
	LogWebhook(ctx context.Context, entry WebhookLog) error

	// LogWebhookError records a delivery that could not be processed,
	// preserving the raw payload for audit.
	LogWebhookError(ctx context.Context, provider payment.Provider, message string, raw []byte) error
}
