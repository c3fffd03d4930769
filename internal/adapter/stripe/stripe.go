// Package stripe implements the Stripe provider adapter: hosted Checkout
// Session initiation, PaymentIntent status checks, signature-verified
// webhooks and partial or full refunds.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/metrics"
	"github.com/nyuchitech/payments-core/internal/payment"
)

const (
	defaultAPIBaseURL = "https://api.stripe.com/v1"

	requestTimeout = 15 * time.Second

	retryAttempts = 2
	retryDelay    = 500 * time.Millisecond

	// Webhook timestamps older than this are rejected to blunt replay.
	signatureTolerance = 5 * time.Minute
)

var supportedCurrencies = []string{"USD", "EUR", "GBP", "ZAR"}

// Config carries the Stripe API credentials and checkout redirect URLs.
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// Adapter is the Stripe implementation of adapter.ProviderAdapter and
// adapter.Refunder. Mobile-money channels are not offered.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	apiBaseURL string
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs the Stripe adapter. A missing secret key is a configuration
// error, not a runtime payment failure.
func New(cfg Config, client *http.Client, logger *slog.Logger) (*Adapter, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key not configured", payment.ErrConfiguration)
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:        cfg,
		httpClient: client,
		apiBaseURL: defaultAPIBaseURL,
		logger:     logger.With("provider", payment.ProviderStripe.String()),
		now:        time.Now,
	}, nil
}

func (a *Adapter) Provider() payment.Provider { return payment.ProviderStripe }

func (a *Adapter) SupportedCurrencies() []string {
	out := make([]string, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

// CreateWebPayment creates a hosted Checkout Session. The session URL is the
// redirect target; the underlying PaymentIntent id becomes the transaction
// id used for later status checks and refunds.
func (a *Adapter) CreateWebPayment(ctx context.Context, req payment.Request) payment.Response {
	if !adapter.CurrencySupported(a, req.Currency) {
		return a.failure(req, fmt.Sprintf("currency %s not supported by stripe", req.Currency))
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", a.cfg.SuccessURL)
	form.Set("cancel_url", a.cfg.CancelURL)
	form.Set("customer_email", req.Email)
	form.Set("metadata[reference]", req.Reference)
	form.Set("payment_intent_data[metadata][reference]", req.Reference)
	if req.OrganizationID != "" {
		form.Set("metadata[organizationId]", req.OrganizationID)
	}
	if req.PayerID != "" {
		form.Set("metadata[payerId]", req.PayerID)
	}
	for i, item := range req.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		form.Set(prefix+"[quantity]", strconv.Itoa(qty))
		form.Set(prefix+"[price_data][currency]", strings.ToLower(req.Currency))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(toCents(item.UnitAmount), 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
	}

	var session struct {
		ID            string `json:"id"`
		URL           string `json:"url"`
		PaymentIntent string `json:"payment_intent"`
	}
	if err := a.call(ctx, http.MethodPost, "/checkout/sessions", form, req.Reference, &session); err != nil {
		return a.failure(req, err.Error())
	}

	transactionID := session.PaymentIntent
	if transactionID == "" {
		transactionID = session.ID
	}
	return payment.Response{
		Success:       true,
		Provider:      payment.ProviderStripe,
		Reference:     req.Reference,
		TransactionID: transactionID,
		RedirectURL:   session.URL,
		PollToken:     transactionID,
		Amount:        req.Total(),
		Currency:      req.Currency,
	}
}

type paymentIntent struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Created       int64             `json:"created"`
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

// CheckStatus retrieves the PaymentIntent and maps its status through the
// Stripe table.
func (a *Adapter) CheckStatus(ctx context.Context, intentID string) (payment.StatusResult, error) {
	if !strings.HasPrefix(intentID, "pi_") {
		return payment.StatusResult{}, fmt.Errorf("stripe: %q is not a payment intent id", intentID)
	}

	var intent paymentIntent
	if err := a.call(ctx, http.MethodGet, "/payment_intents/"+intentID, nil, "", &intent); err != nil {
		return payment.StatusResult{}, fmt.Errorf("stripe: retrieve payment intent: %w", err)
	}

	mapped, known := payment.MapNativeStatus(payment.ProviderStripe, intent.Status)
	if !known {
		metrics.ReconcileAnomalies.WithLabelValues(payment.ProviderStripe.String(), "unmapped_status").Inc()
		a.logger.Warn("unmapped stripe status, treating as pending", "native_status", intent.Status)
	}

	reference := intent.Metadata["reference"]
	if reference == "" {
		reference = intent.ID
	}
	result := payment.StatusResult{
		Reference:         reference,
		TransactionID:     intent.ID,
		Provider:          payment.ProviderStripe,
		Status:            mapped,
		Paid:              mapped.Paid(),
		Amount:            fromCents(intent.Amount),
		Currency:          strings.ToUpper(intent.Currency),
		ProviderReference: intent.ID,
		UpdatedAt:         time.Unix(intent.Created, 0).UTC(),
		Metadata: map[string]string{
			"nativeStatus":  intent.Status,
			"paymentMethod": intent.PaymentMethod,
		},
	}
	if result.Paid {
		result.PaidAmount = result.Amount
	}
	return result, nil
}

// Event types whose meaning is stronger than the embedded object's status
// snapshot. A payment_failed event can arrive with the intent already reset
// to requires_payment_method, which would otherwise map back to pending.
var eventTypeStatus = map[string]payment.UniversalStatus{
	"payment_intent.payment_failed": payment.StatusFailed,
	"payment_intent.canceled":       payment.StatusCancelled,
	"charge.refunded":               payment.StatusRefunded,
}

// HandleWebhook verifies the Stripe-Signature header and normalizes the
// event. Verification failure returns payment.ErrInvalidSignature and the
// event must not touch persisted state.
func (a *Adapter) HandleWebhook(ctx context.Context, delivery adapter.WebhookDelivery) (payment.WebhookEvent, error) {
	if a.cfg.WebhookSecret == "" {
		return payment.WebhookEvent{}, fmt.Errorf("%w: stripe webhook secret not configured", payment.ErrConfiguration)
	}
	if err := a.verifySignature(delivery); err != nil {
		return payment.WebhookEvent{}, err
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object paymentIntent `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("stripe: parse webhook event: %w", err)
	}

	object := event.Data.Object
	reference := object.Metadata["reference"]
	if reference == "" {
		reference = object.ID
	}
	if reference == "" {
		return payment.WebhookEvent{}, fmt.Errorf("stripe: webhook event has no reference or object id")
	}

	mapped, overridden := eventTypeStatus[event.Type]
	if !overridden {
		var known bool
		mapped, known = payment.MapNativeStatus(payment.ProviderStripe, object.Status)
		if !known {
			metrics.ReconcileAnomalies.WithLabelValues(payment.ProviderStripe.String(), "unmapped_status").Inc()
			a.logger.Warn("unmapped stripe webhook status, treating as pending",
				"native_status", object.Status, "event_type", event.Type)
		}
	}

	return payment.WebhookEvent{
		Provider:      payment.ProviderStripe,
		EventType:     event.Type,
		Reference:     reference,
		Status:        mapped,
		Amount:        fromCents(object.Amount),
		Currency:      strings.ToUpper(object.Currency),
		TransactionID: object.ID,
		Raw:           delivery.Body,
	}, nil
}

// Refund implements adapter.Refunder. A zero amount requests a full refund.
// The return reports settlement, not acceptance: only a refund Stripe marks
// succeeded counts.
func (a *Adapter) Refund(ctx context.Context, transactionID string, amount float64) (bool, error) {
	form := url.Values{}
	form.Set("payment_intent", transactionID)
	if amount > 0 {
		form.Set("amount", strconv.FormatInt(toCents(amount), 10))
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	// Each refund is its own request from Stripe's point of view, so the key
	// is fresh per call. Keying on the transaction id would make a second
	// partial refund of the same intent collide with the first. The key is
	// generated once here so transport retries inside call still share it.
	if err := a.call(ctx, http.MethodPost, "/refunds", form, "refund-"+uuid.NewString(), &refund); err != nil {
		return false, fmt.Errorf("stripe: create refund: %w", err)
	}
	return refund.Status == "succeeded", nil
}

// verifySignature checks the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<body>" with the webhook secret, plus a freshness window.
func (a *Adapter) verifySignature(delivery adapter.WebhookDelivery) error {
	header := delivery.Headers["Stripe-Signature"]
	if header == "" {
		header = delivery.Headers["stripe-signature"]
	}
	if header == "" {
		return fmt.Errorf("stripe: missing Stripe-Signature header: %w", payment.ErrInvalidSignature)
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return fmt.Errorf("stripe: malformed Stripe-Signature header: %w", payment.ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("stripe: bad signature timestamp: %w", payment.ErrInvalidSignature)
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("stripe: signature timestamp outside tolerance: %w", payment.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(delivery.Body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return fmt.Errorf("stripe: no matching v1 signature: %w", payment.ErrInvalidSignature)
}

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

// call performs one Stripe API request with bounded retries on 429 and 5xx,
// decoding the JSON response into out. POSTs carry an idempotency key so a
// transport-level retry can never create a second charge.
func (a *Adapter) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body []byte
	var lastErr error

	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if form != nil {
			reader = strings.NewReader(form.Encode())
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, a.apiBaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.SecretKey)
		if form != nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if method == http.MethodPost && idempotencyKey != "" {
			httpReq.Header.Set("Idempotency-Key", idempotencyKey)
		}

		httpResp, err := a.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}
		body, err = io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}
		if httpResp.StatusCode >= http.StatusBadRequest {
			var apiErr apiError
			if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
				code := apiErr.Error.Code
				if apiErr.Error.DeclineCode != "" {
					code = apiErr.Error.DeclineCode
				}
				return fmt.Errorf("%s (%s)", apiErr.Error.Message, code)
			}
			return fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func (a *Adapter) failure(req payment.Request, msg string) payment.Response {
	a.logger.Warn("stripe payment failed", "reference", req.Reference, "error", msg)
	return payment.Response{
		Success:   false,
		Provider:  payment.ProviderStripe,
		Reference: req.Reference,
		Amount:    req.Total(),
		Currency:  req.Currency,
		Error:     msg,
	}
}

func toCents(amount float64) int64 { return int64(math.Round(amount * 100)) }

func fromCents(cents int64) float64 { return float64(cents) / 100 }
