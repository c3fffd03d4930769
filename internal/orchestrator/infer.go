package orchestrator

import (
	"strings"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// InferProvider guesses the owning provider from the shape of a status
// handle or transaction id. Paynow hands out poll URLs on paynow.co.zw;
// Stripe ids carry well-known prefixes. This is a best-effort heuristic,
// never authoritative: callers fall back to trying providers directly when
// it misses, and it lives here in one place so a provider changing its id
// format is a one-line fix.
func InferProvider(handle string) (payment.Provider, bool) {
	if strings.Contains(handle, "paynow.co.zw") {
		return payment.ProviderPaynow, true
	}
	for _, prefix := range []string{"pi_", "cs_", "sub_", "ch_"} {
		if strings.HasPrefix(handle, prefix) {
			return payment.ProviderStripe, true
		}
	}
	return "", false
}
