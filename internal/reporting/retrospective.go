// Package reporting produces operational summaries over persisted payment
// records: volumes by status and provider, settled amounts per currency and
// the window the records span.
package reporting

import (
	"time"

	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/store"
)

// RetrospectiveReport summarizes payment activity across a set of records.
type RetrospectiveReport struct {
	TotalPayments      int                             `json:"totalPayments"`
	SucceededPayments  int                             `json:"succeededPayments"`
	FailedPayments     int                             `json:"failedPayments"`
	RefundedPayments   int                             `json:"refundedPayments"`
	PendingPayments    int                             `json:"pendingPayments"`
	SettledByCurrency  map[string]float64              `json:"settledByCurrency"`
	StatusBreakdown    map[payment.UniversalStatus]int `json:"statusBreakdown"`
	ProviderUsage      map[payment.Provider]int        `json:"providerUsage"`
	DateFrom           time.Time                       `json:"dateFrom"`
	DateTo             time.Time                       `json:"dateTo"`
	ObservationWindow  time.Duration                   `json:"observationWindow"`
}

// RetrospectiveReporter generates reports from payment records.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective tallies a slice of payment records.
func (rr *RetrospectiveReporter) GenerateRetrospective(records []store.PaymentRecord) *RetrospectiveReport {
	report := &RetrospectiveReport{
		SettledByCurrency: make(map[string]float64),
		StatusBreakdown:   make(map[payment.UniversalStatus]int),
		ProviderUsage:     make(map[payment.Provider]int),
	}
	if len(records) == 0 {
		return report
	}

	report.DateFrom = records[0].CreatedAt
	report.DateTo = records[0].CreatedAt
	for _, rec := range records {
		report.TotalPayments++
		report.StatusBreakdown[rec.Status]++
		if rec.Provider != "" {
			report.ProviderUsage[rec.Provider]++
		}

		if rec.CreatedAt.Before(report.DateFrom) {
			report.DateFrom = rec.CreatedAt
		}
		if rec.CreatedAt.After(report.DateTo) {
			report.DateTo = rec.CreatedAt
		}

		switch rec.Status {
		case payment.StatusSucceeded:
			report.SucceededPayments++
			report.SettledByCurrency[rec.Currency] += rec.Amount
		case payment.StatusFailed, payment.StatusCancelled:
			report.FailedPayments++
		case payment.StatusRefunded:
			report.RefundedPayments++
		case payment.StatusPending, payment.StatusProcessing:
			report.PendingPayments++
		}
	}
	report.ObservationWindow = report.DateTo.Sub(report.DateFrom)
	return report
}
