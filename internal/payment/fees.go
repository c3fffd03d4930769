package payment

// FeeSchedule holds a provider's pricing constants. The estimate formula is
// max(amount*Percentage + Fixed, Minimum).
type FeeSchedule struct {
	Percentage float64
	Fixed      float64
	Minimum    float64
}

var feeSchedules = map[Provider]FeeSchedule{
	ProviderPaynow: {Percentage: 0.035, Fixed: 0.50, Minimum: 0.10},
	ProviderStripe: {Percentage: 0.029, Fixed: 0.30, Minimum: 0.05},
}

// FeeFor estimates the provider fee for a given amount. Pure function,
// no I/O.
func FeeFor(provider Provider, amount float64) float64 {
	schedule, ok := feeSchedules[provider]
	if !ok {
		return 0
	}
	fee := amount*schedule.Percentage + schedule.Fixed
	if fee < schedule.Minimum {
		return schedule.Minimum
	}
	return fee
}
