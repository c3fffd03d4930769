package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateReference produces a caller-unique payment reference of the form
// PREFIX-<unix millis>-<random>. The timestamp plus a UUID-derived suffix
// makes collisions across concurrent callers vanishingly unlikely, so the
// value is safe to use as an idempotency and lookup key.
func GenerateReference(prefix string) string {
	if prefix == "" {
		prefix = "PAY"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}
