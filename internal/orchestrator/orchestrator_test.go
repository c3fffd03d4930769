package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/adapter/mock"
	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/policy"
)

func webRequest() payment.Request {
	return payment.Request{
		Reference: "PAY-1700000000000-ABCDEF",
		Email:     "payer@example.com",
		Currency:  "USD",
		Items:     []payment.Item{{Name: "Plan", UnitAmount: 25, Quantity: 1}},
	}
}

func failingResponse(req payment.Request, provider payment.Provider) payment.Response {
	return payment.Response{
		Success:   false,
		Provider:  provider,
		Reference: req.Reference,
		Amount:    req.Total(),
		Currency:  req.Currency,
		Error:     "provider unavailable",
	}
}

func newOrchestrator(t *testing.T, registry adapter.Registry, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(registry, payment.ProviderPaynow, payment.ProviderStripe, opts...)
	require.NoError(t, err)
	return o
}

func TestNewRejectsEmptyRegistry(t *testing.T) {
	_, err := New(adapter.Registry{}, payment.ProviderPaynow, payment.ProviderStripe)
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrConfiguration)
}

func TestSelectProviderPriorityChain(t *testing.T) {
	primary := mock.New(payment.ProviderPaynow)
	fallback := mock.New(payment.ProviderStripe)

	t.Run("ExplicitPreferenceWins", func(t *testing.T) {
		o := newOrchestrator(t, adapter.Registry{
			payment.ProviderPaynow: primary,
			payment.ProviderStripe: fallback,
		})
		selected, err := o.SelectProvider(payment.ProviderStripe)
		require.NoError(t, err)
		assert.Equal(t, payment.ProviderStripe, selected.Provider())
	})

	t.Run("PrimaryWhenNoPreference", func(t *testing.T) {
		o := newOrchestrator(t, adapter.Registry{
			payment.ProviderPaynow: primary,
			payment.ProviderStripe: fallback,
		})
		selected, err := o.SelectProvider("")
		require.NoError(t, err)
		assert.Equal(t, payment.ProviderPaynow, selected.Provider())
	})

	t.Run("FallbackWhenPrimaryDisabled", func(t *testing.T) {
		o := newOrchestrator(t, adapter.Registry{payment.ProviderStripe: fallback})
		selected, err := o.SelectProvider("")
		require.NoError(t, err)
		assert.Equal(t, payment.ProviderStripe, selected.Provider())
	})

	t.Run("PreferenceForDisabledProviderFallsThrough", func(t *testing.T) {
		o := newOrchestrator(t, adapter.Registry{payment.ProviderPaynow: primary})
		selected, err := o.SelectProvider(payment.ProviderStripe)
		require.NoError(t, err)
		assert.Equal(t, payment.ProviderPaynow, selected.Provider())
	})
}

func TestCreateWebPaymentFailoverExactlyOnce(t *testing.T) {
	primary := mock.New(payment.ProviderPaynow)
	primary.CreateWebFunc = func(ctx context.Context, req payment.Request) payment.Response {
		return failingResponse(req, payment.ProviderPaynow)
	}
	fallback := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: primary,
		payment.ProviderStripe: fallback,
	})

	resp, err := o.CreateWebPayment(context.Background(), webRequest(), "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, payment.ProviderStripe, resp.Provider)
	assert.Equal(t, 1, primary.CreateCalls())
	assert.Equal(t, 1, fallback.CreateCalls())
}

func TestCreateWebPaymentNoFailoverAfterSuccess(t *testing.T) {
	primary := mock.New(payment.ProviderPaynow)
	fallback := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: primary,
		payment.ProviderStripe: fallback,
	})

	resp, err := o.CreateWebPayment(context.Background(), webRequest(), "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, payment.ProviderPaynow, resp.Provider)
	assert.Equal(t, 0, fallback.CreateCalls())
}

func TestCreateWebPaymentFallbackFailureIsFinal(t *testing.T) {
	fail := func(ctx context.Context, req payment.Request) payment.Response {
		return failingResponse(req, payment.ProviderPaynow)
	}
	primary := mock.New(payment.ProviderPaynow)
	primary.CreateWebFunc = fail
	fallback := mock.New(payment.ProviderStripe)
	fallback.CreateWebFunc = func(ctx context.Context, req payment.Request) payment.Response {
		return failingResponse(req, payment.ProviderStripe)
	}

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: primary,
		payment.ProviderStripe: fallback,
	})

	resp, err := o.CreateWebPayment(context.Background(), webRequest(), "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, payment.ProviderStripe, resp.Provider)
	assert.Equal(t, 1, primary.CreateCalls())
	assert.Equal(t, 1, fallback.CreateCalls())
}

// Pinning a non-primary provider expresses intent; its failure must not be
// papered over by routing to a different provider.
func TestCreateWebPaymentNoFailoverWhenPinnedNonPrimary(t *testing.T) {
	primary := mock.New(payment.ProviderPaynow)
	pinned := mock.New(payment.ProviderStripe)
	pinned.CreateWebFunc = func(ctx context.Context, req payment.Request) payment.Response {
		return failingResponse(req, payment.ProviderStripe)
	}

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: primary,
		payment.ProviderStripe: pinned,
	})

	resp, err := o.CreateWebPayment(context.Background(), webRequest(), payment.ProviderStripe)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, primary.CreateCalls())
}

// Pinning the primary keeps failover enabled: the caller asked for the
// default routing, not a different provider.
func TestCreateWebPaymentPinnedPrimaryStillFailsOver(t *testing.T) {
	primary := mock.New(payment.ProviderPaynow)
	primary.CreateWebFunc = func(ctx context.Context, req payment.Request) payment.Response {
		return failingResponse(req, payment.ProviderPaynow)
	}
	fallback := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: primary,
		payment.ProviderStripe: fallback,
	})

	resp, err := o.CreateWebPayment(context.Background(), webRequest(), payment.ProviderPaynow)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, payment.ProviderStripe, resp.Provider)
}

func TestCreateWebPaymentInvalidRequest(t *testing.T) {
	o := newOrchestrator(t, adapter.Registry{payment.ProviderPaynow: mock.New(payment.ProviderPaynow)})

	req := webRequest()
	req.Items = nil
	_, err := o.CreateWebPayment(context.Background(), req, "")
	assert.Error(t, err)
}

func TestCreateWebPaymentPolicyRejection(t *testing.T) {
	enforcer, err := policy.NewEnforcer([]policy.RuleConfig{
		{Name: "MaxAmount", Expression: "amount <= 10"},
	})
	require.NoError(t, err)

	primary := mock.New(payment.ProviderPaynow)
	o := newOrchestrator(t, adapter.Registry{payment.ProviderPaynow: primary}, WithPolicy(enforcer))

	resp, err := o.CreateWebPayment(context.Background(), webRequest(), "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "MaxAmount")
	assert.Equal(t, 0, primary.CreateCalls(), "rejected payment must not reach the provider")
}

func TestCreateMobilePaymentRoutesToCapableProvider(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	paynow.MobileMethods = []payment.MobileMethod{payment.MobileEcocash, payment.MobileOneMoney}
	stripe := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: mock.NewWebOnly(stripe),
	})

	req := payment.MobileRequest{
		Request:      webRequest(),
		PhoneNumber:  "0771234567",
		MobileMethod: payment.MobileEcocash,
	}
	resp, err := o.CreateMobilePayment(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, payment.ProviderPaynow, resp.Provider)
	assert.Equal(t, 1, paynow.MobileCalls())
}

func TestCreateMobilePaymentNoCapableProvider(t *testing.T) {
	stripe := mock.New(payment.ProviderStripe)
	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderStripe: mock.NewWebOnly(stripe),
	})

	req := payment.MobileRequest{
		Request:      webRequest(),
		PhoneNumber:  "0771234567",
		MobileMethod: payment.MobileEcocash,
	}
	resp, err := o.CreateMobilePayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "ecocash")
}

func TestCreateMobilePaymentUnsupportedMethod(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	paynow.MobileMethods = []payment.MobileMethod{payment.MobileEcocash}

	o := newOrchestrator(t, adapter.Registry{payment.ProviderPaynow: paynow})

	req := payment.MobileRequest{
		Request:      webRequest(),
		PhoneNumber:  "0771234567",
		MobileMethod: payment.MobileOneMoney,
	}
	resp, err := o.CreateMobilePayment(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, paynow.MobileCalls())
}

func TestCheckPaymentStatusExplicitProvider(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	stripe := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	result, err := o.CheckPaymentStatus(context.Background(), "whatever", payment.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, result.Provider)
	assert.Equal(t, 0, paynow.CheckCalls())
}

func TestCheckPaymentStatusInferenceFirst(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	stripe := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	result, err := o.CheckPaymentStatus(context.Background(), "pi_3Nabc123", "")
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, result.Provider)
	assert.Equal(t, 0, paynow.CheckCalls())
	assert.Equal(t, 1, stripe.CheckCalls())
}

func TestCheckPaymentStatusFallsThroughProviders(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	paynow.CheckFunc = func(ctx context.Context, handle string) (payment.StatusResult, error) {
		return payment.StatusResult{}, errors.New("poll failed")
	}
	stripe := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	result, err := o.CheckPaymentStatus(context.Background(), "PAY-1-ABC", "")
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, result.Provider)
	assert.Equal(t, 1, paynow.CheckCalls())
}

func TestCheckPaymentStatusExhaustedIsUnavailable(t *testing.T) {
	fail := func(ctx context.Context, handle string) (payment.StatusResult, error) {
		return payment.StatusResult{}, errors.New("down")
	}
	paynow := mock.New(payment.ProviderPaynow)
	paynow.CheckFunc = fail
	stripe := mock.New(payment.ProviderStripe)
	stripe.CheckFunc = fail

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	_, err := o.CheckPaymentStatus(context.Background(), "PAY-1-ABC", "")
	assert.ErrorIs(t, err, payment.ErrStatusUnavailable)
	assert.Equal(t, 1, paynow.CheckCalls())
	assert.Equal(t, 1, stripe.CheckCalls())
}

func TestRefundPaymentInfersProvider(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	stripe := mock.New(payment.ProviderStripe)

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	settled, err := o.RefundPayment(context.Background(), "pi_3Nabc123", 12.50, "")
	require.NoError(t, err)
	assert.True(t, settled)
	calls, amount := stripe.RefundCalls()
	assert.Equal(t, 1, calls)
	assert.InDelta(t, 12.50, amount, 1e-9)
}

func TestRefundPaymentUnsupportedCapability(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: mock.NewWebOnly(paynow),
	})

	_, err := o.RefundPayment(context.Background(), "12345", 0, payment.ProviderPaynow)
	assert.ErrorIs(t, err, payment.ErrRefundUnsupported)
	calls, _ := paynow.RefundCalls()
	assert.Equal(t, 0, calls)
}

func TestAvailablePaymentMethodsFiltersByCurrency(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	paynow.Currencies = []string{"USD", "ZWL"}
	stripe := mock.New(payment.ProviderStripe)
	stripe.Currencies = []string{"USD", "EUR"}

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	zwl := o.AvailablePaymentMethods("ZWL", "")
	assert.Contains(t, zwl, "ecocash")
	assert.NotContains(t, zwl, "card")

	usd := o.AvailablePaymentMethods("USD", "")
	assert.Contains(t, usd, "ecocash")
	assert.Contains(t, usd, "card")
}

func TestSupportedCurrenciesDeduplicates(t *testing.T) {
	paynow := mock.New(payment.ProviderPaynow)
	paynow.Currencies = []string{"USD", "ZWL"}
	stripe := mock.New(payment.ProviderStripe)
	stripe.Currencies = []string{"USD", "EUR"}

	o := newOrchestrator(t, adapter.Registry{
		payment.ProviderPaynow: paynow,
		payment.ProviderStripe: stripe,
	})

	assert.Equal(t, []string{"USD", "ZWL", "EUR"}, o.SupportedCurrencies())
}

func TestCalculateFeesDefaultsToPrimary(t *testing.T) {
	o := newOrchestrator(t, adapter.Registry{payment.ProviderPaynow: mock.New(payment.ProviderPaynow)})
	assert.InDelta(t, payment.FeeFor(payment.ProviderPaynow, 100), o.CalculateFees(100, ""), 1e-9)
	assert.InDelta(t, payment.FeeFor(payment.ProviderStripe, 100), o.CalculateFees(100, payment.ProviderStripe), 1e-9)
}

func TestProviderStatus(t *testing.T) {
	o := newOrchestrator(t, adapter.Registry{payment.ProviderPaynow: mock.New(payment.ProviderPaynow)})

	status := o.ProviderStatus()
	assert.True(t, status["paynow"].Enabled)
	assert.False(t, status["stripe"].Enabled)
	assert.True(t, status["primary"].Enabled)
	assert.False(t, status["fallback"].Enabled)
	assert.Equal(t, "closed", status["paynow"].Health)
}
