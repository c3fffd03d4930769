package payment

import "fmt"

// UniversalStatus is the closed taxonomy every provider-native status maps
// into. Unmapped native statuses map to StatusPending, never to a terminal
// state, so an in-flight payment is never falsely closed out.
type UniversalStatus string

const (
	StatusPending    UniversalStatus = "pending"
	StatusProcessing UniversalStatus = "processing"
	StatusSucceeded  UniversalStatus = "succeeded"
	StatusFailed     UniversalStatus = "failed"
	StatusCancelled  UniversalStatus = "cancelled"
	StatusRefunded   UniversalStatus = "refunded"
)

// ParseUniversalStatus validates a status string read back from storage.
func ParseUniversalStatus(s string) (UniversalStatus, error) {
	switch UniversalStatus(s) {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed, StatusCancelled, StatusRefunded:
		return UniversalStatus(s), nil
	}
	return "", fmt.Errorf("payment: unknown universal status %q", s)
}

// Terminal reports whether s is a final state. Terminal records only ever
// move along the StatusSucceeded -> StatusRefunded edge.
func (s UniversalStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Paid reports whether s means the payer's money has settled.
func (s UniversalStatus) Paid() bool { return s == StatusSucceeded }

func (s UniversalStatus) String() string { return string(s) }

// Per-provider native status tables. These are data, not control flow:
// supporting a new provider means adding a table here, not new conditionals
// in the orchestrator.

// paynowStatusTable covers the statuses the Paynow poll and result endpoints
// are documented to emit.
var paynowStatusTable = map[string]UniversalStatus{
	"Created":           StatusPending,
	"Sent":              StatusProcessing,
	"Paid":              StatusSucceeded,
	"Awaiting Delivery": StatusSucceeded,
	"Delivered":         StatusSucceeded,
	"Cancelled":         StatusCancelled,
	"Disputed":          StatusFailed,
	"Refunded":          StatusRefunded,
}

// stripeStatusTable covers the PaymentIntent status vocabulary.
var stripeStatusTable = map[string]UniversalStatus{
	"requires_payment_method": StatusPending,
	"requires_confirmation":   StatusPending,
	"requires_action":         StatusPending,
	"requires_capture":        StatusProcessing,
	"processing":              StatusProcessing,
	"succeeded":               StatusSucceeded,
	"canceled":                StatusCancelled,
}

var statusTables = map[Provider]map[string]UniversalStatus{
	ProviderPaynow: paynowStatusTable,
	ProviderStripe: stripeStatusTable,
}

// MapNativeStatus translates a provider-native status string into the
// universal taxonomy. The second return reports whether the native status
// was recognized; callers log unrecognized statuses as anomalies but still
// receive StatusPending.
func MapNativeStatus(provider Provider, native string) (UniversalStatus, bool) {
	table, ok := statusTables[provider]
	if !ok {
		return StatusPending, false
	}
	mapped, ok := table[native]
	if !ok {
		return StatusPending, false
	}
	return mapped, ok
}

// NativeStatuses returns the documented native vocabulary for a provider,
// used by tests to assert the mapping is total.
func NativeStatuses(provider Provider) []string {
	table := statusTables[provider]
	out := make([]string, 0, len(table))
	for native := range table {
		out = append(out, native)
	}
	return out
}
