package payment

import "errors"

// Orchestrator and adapter level sentinels. Anything concerning a specific
// payment's outcome is returned as data on Response instead; these errors
// cover configuration and deployment problems that cannot be resolved
// per-request, plus webhook authenticity failures.
var (
	// ErrConfiguration marks missing or inconsistent provider credentials.
	// Fatal at construction time.
	ErrConfiguration = errors.New("payment: configuration error")

	// ErrNoProviderAvailable means no enabled adapter could be selected.
	ErrNoProviderAvailable = errors.New("payment: no payment provider available")

	// ErrStatusUnavailable means every enabled adapter failed a status
	// check. Distinct from a failed payment: the status is temporarily
	// unavailable, the payment outcome is unknown.
	ErrStatusUnavailable = errors.New("payment: status temporarily unavailable")

	// ErrRefundUnsupported means the resolved adapter does not implement
	// the refund capability.
	ErrRefundUnsupported = errors.New("payment: refunds not supported by provider")

	// ErrInvalidSignature marks a webhook payload that failed authenticity
	// verification. The event must be rejected with no state mutation.
	ErrInvalidSignature = errors.New("payment: invalid webhook signature")
)
