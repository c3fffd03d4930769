package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/payment"
)

const testWebhookSecret = "whsec_test_secret"

func testConfig() Config {
	return Config{
		SecretKey:     "sk_test_abc123",
		WebhookSecret: testWebhookSecret,
		SuccessURL:    "https://app.example.com/payments/success",
		CancelURL:     "https://app.example.com/payments/cancel",
	}
}

func testAdapter(t *testing.T, serverURL string) *Adapter {
	t.Helper()
	a, err := New(testConfig(), nil, nil)
	require.NoError(t, err)
	if serverURL != "" {
		a.apiBaseURL = serverURL
	}
	return a
}

func webRequest() payment.Request {
	return payment.Request{
		Reference: "PAY-1700000000000-ABCDEF",
		Email:     "payer@example.com",
		Currency:  "USD",
		Items: []payment.Item{
			{Name: "Premium Plan", UnitAmount: 25, Quantity: 1},
			{Name: "Setup Fee", UnitAmount: 4.99},
		},
	}
}

// sign builds a Stripe-Signature header over the body at the given time.
func sign(t *testing.T, body []byte, at time.Time) string {
	t.Helper()
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestNewRequiresSecretKey(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrConfiguration)
}

func TestCreateWebPaymentBuildsCheckoutSession(t *testing.T) {
	var received url.Values
	var auth, idempotency string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		received = r.PostForm
		auth = r.Header.Get("Authorization")
		idempotency = r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{
			"id": "cs_test_123",
			"url": "https://checkout.stripe.com/c/pay/cs_test_123",
			"payment_intent": "pi_3NabcDEF"
		}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	resp := a.CreateWebPayment(context.Background(), webRequest())

	require.True(t, resp.Success, "unexpected failure: %s", resp.Error)
	assert.Equal(t, "pi_3NabcDEF", resp.TransactionID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_123", resp.RedirectURL)
	assert.InDelta(t, 29.99, resp.Amount, 1e-9)

	assert.Equal(t, "Bearer sk_test_abc123", auth)
	assert.Equal(t, "PAY-1700000000000-ABCDEF", idempotency)
	assert.Equal(t, "payment", received.Get("mode"))
	assert.Equal(t, "PAY-1700000000000-ABCDEF", received.Get("metadata[reference]"))
	assert.Equal(t, "PAY-1700000000000-ABCDEF", received.Get("payment_intent_data[metadata][reference]"))
	assert.Equal(t, "2500", received.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", received.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "Premium Plan", received.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "499", received.Get("line_items[1][price_data][unit_amount]"))
	assert.Equal(t, "1", received.Get("line_items[1][quantity]"), "missing quantity defaults to one")
}

func TestCreateWebPaymentSessionWithoutIntentFallsBackToSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "cs_test_456", "url": "https://checkout.stripe.com/c/pay/cs_test_456"}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	resp := a.CreateWebPayment(context.Background(), webRequest())
	require.True(t, resp.Success)
	assert.Equal(t, "cs_test_456", resp.TransactionID)
}

func TestCreateWebPaymentUnsupportedCurrencyFailsFast(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	req := webRequest()
	req.Currency = "ZWL"

	resp := a.CreateWebPayment(context.Background(), req)
	assert.False(t, resp.Success)
	assert.Zero(t, calls)
}

func TestCreateWebPaymentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": {"type": "card_error", "code": "card_declined", "decline_code": "insufficient_funds", "message": "Your card has insufficient funds."}}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	resp := a.CreateWebPayment(context.Background(), webRequest())
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "insufficient funds")
	assert.Contains(t, resp.Error, "insufficient_funds")
}

func TestCallRetriesOnServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id": "cs_test_retry", "url": "https://checkout.stripe.com/c/pay/cs_test_retry"}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	resp := a.CreateWebPayment(context.Background(), webRequest())
	require.True(t, resp.Success)
	assert.Equal(t, 2, calls)
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payment_intents/pi_3NabcDEF", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": "pi_3NabcDEF",
			"status": "succeeded",
			"amount": 2999,
			"currency": "usd",
			"created": 1700000000,
			"payment_method": "pm_card_visa",
			"metadata": {"reference": "PAY-1700000000000-ABCDEF"}
		}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	result, err := a.CheckStatus(context.Background(), "pi_3NabcDEF")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSucceeded, result.Status)
	assert.True(t, result.Paid)
	assert.Equal(t, "PAY-1700000000000-ABCDEF", result.Reference)
	assert.InDelta(t, 29.99, result.Amount, 1e-9)
	assert.InDelta(t, 29.99, result.PaidAmount, 1e-9)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, "succeeded", result.Metadata["nativeStatus"])
}

func TestCheckStatusRejectsNonIntentID(t *testing.T) {
	a := testAdapter(t, "")
	_, err := a.CheckStatus(context.Background(), "cs_test_123")
	assert.Error(t, err)
}

func TestRefund(t *testing.T) {
	var received url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		received = r.PostForm
		_, _ = w.Write([]byte(`{"id": "re_1", "status": "succeeded"}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)

	t.Run("PartialRefund", func(t *testing.T) {
		settled, err := a.Refund(context.Background(), "pi_3NabcDEF", 10.50)
		require.NoError(t, err)
		assert.True(t, settled)
		assert.Equal(t, "pi_3NabcDEF", received.Get("payment_intent"))
		assert.Equal(t, "1050", received.Get("amount"))
	})

	t.Run("FullRefundOmitsAmount", func(t *testing.T) {
		settled, err := a.Refund(context.Background(), "pi_3NabcDEF", 0)
		require.NoError(t, err)
		assert.True(t, settled)
		assert.Empty(t, received.Get("amount"))
	})
}

func TestRefundUsesFreshIdempotencyKeyPerCall(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{"id": "re_1", "status": "succeeded"}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)

	// Two partial refunds of the same intent. Reusing one key would make
	// the second request collide with the first at the API.
	settled, err := a.Refund(context.Background(), "pi_3NabcDEF", 5)
	require.NoError(t, err)
	assert.True(t, settled)

	settled, err = a.Refund(context.Background(), "pi_3NabcDEF", 10)
	require.NoError(t, err)
	assert.True(t, settled)

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEmpty(t, keys[1])
	assert.NotEqual(t, keys[0], keys[1])
}

func TestRefundPendingIsNotSettled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "re_2", "status": "pending"}`))
	}))
	defer srv.Close()

	a := testAdapter(t, srv.URL)
	settled, err := a.Refund(context.Background(), "pi_3NabcDEF", 0)
	require.NoError(t, err)
	assert.False(t, settled)
}

func webhookBody() []byte {
	return []byte(`{
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_3NabcDEF",
			"status": "succeeded",
			"amount": 2999,
			"currency": "usd",
			"metadata": {"reference": "PAY-1700000000000-ABCDEF"}
		}}
	}`)
}

func TestHandleWebhookValidSignature(t *testing.T) {
	a := testAdapter(t, "")
	body := webhookBody()

	event, err := a.HandleWebhook(context.Background(), adapter.WebhookDelivery{
		Body:    body,
		Headers: map[string]string{"Stripe-Signature": sign(t, body, time.Now())},
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, event.Provider)
	assert.Equal(t, "payment_intent.succeeded", event.EventType)
	assert.Equal(t, "PAY-1700000000000-ABCDEF", event.Reference)
	assert.Equal(t, payment.StatusSucceeded, event.Status)
	assert.Equal(t, "pi_3NabcDEF", event.TransactionID)
	assert.InDelta(t, 29.99, event.Amount, 1e-9)
}

func TestHandleWebhookBadSignature(t *testing.T) {
	a := testAdapter(t, "")
	body := webhookBody()

	tests := []struct {
		name   string
		header string
	}{
		{"Missing", ""},
		{"Malformed", "nonsense"},
		{"WrongSignature", fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), "deadbeef")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Stripe-Signature"] = tt.header
			}
			_, err := a.HandleWebhook(context.Background(), adapter.WebhookDelivery{Body: body, Headers: headers})
			require.Error(t, err)
			assert.ErrorIs(t, err, payment.ErrInvalidSignature)
		})
	}
}

func TestHandleWebhookStaleTimestamp(t *testing.T) {
	a := testAdapter(t, "")
	body := webhookBody()

	_, err := a.HandleWebhook(context.Background(), adapter.WebhookDelivery{
		Body:    body,
		Headers: map[string]string{"Stripe-Signature": sign(t, body, time.Now().Add(-10*time.Minute))},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}

// The signature covers the body: any tampering after signing must fail.
func TestHandleWebhookTamperedBody(t *testing.T) {
	a := testAdapter(t, "")
	body := webhookBody()
	header := sign(t, body, time.Now())

	tampered := []byte(`{"type": "payment_intent.succeeded", "data": {"object": {"id": "pi_evil", "status": "succeeded", "amount": 1}}}`)
	_, err := a.HandleWebhook(context.Background(), adapter.WebhookDelivery{
		Body:    tampered,
		Headers: map[string]string{"Stripe-Signature": header},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}

// Event-type overrides beat the embedded object's status snapshot.
func TestHandleWebhookEventTypeOverrides(t *testing.T) {
	a := testAdapter(t, "")

	tests := []struct {
		eventType string
		objStatus string
		want      payment.UniversalStatus
	}{
		{"payment_intent.payment_failed", "requires_payment_method", payment.StatusFailed},
		{"payment_intent.canceled", "canceled", payment.StatusCancelled},
		{"charge.refunded", "succeeded", payment.StatusRefunded},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			body := []byte(fmt.Sprintf(`{
				"type": %q,
				"data": {"object": {"id": "pi_1", "status": %q, "metadata": {"reference": "PAY-1"}}}
			}`, tt.eventType, tt.objStatus))

			event, err := a.HandleWebhook(context.Background(), adapter.WebhookDelivery{
				Body:    body,
				Headers: map[string]string{"Stripe-Signature": sign(t, body, time.Now())},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Status)
		})
	}
}

func TestHandleWebhookMissingSecretIsConfigurationError(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookSecret = ""
	a, err := New(cfg, nil, nil)
	require.NoError(t, err)

	_, err = a.HandleWebhook(context.Background(), adapter.WebhookDelivery{Body: webhookBody()})
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrConfiguration)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(2999), toCents(29.99))
	assert.Equal(t, int64(100), toCents(1.004))
	assert.InDelta(t, 29.99, fromCents(2999), 1e-9)
}
