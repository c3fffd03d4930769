// Package paynow implements the Paynow (Zimbabwe) provider adapter: web
// redirect payments, EcoCash/OneMoney mobile collections, poll-URL status
// checks and hash-verified result webhooks.
//
// The Paynow wire format is URL-encoded key/value pairs in both directions.
// Every message carries a SHA512 hash over the field values in message order
// concatenated with the integration key; the adapter generates the hash on
// outbound messages and verifies it on everything Paynow sends back,
// including webhooks.
package paynow

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/metrics"
	"github.com/nyuchitech/payments-core/internal/payment"
)

const (
	defaultAPIBaseURL = "https://www.paynow.co.zw/interface"

	initiatePath = "/initiatetransaction"
	remotePath   = "/remotetransaction"

	requestTimeout = 15 * time.Second
)

var supportedCurrencies = []string{"USD", "ZWL"}

var supportedMobileMethods = map[payment.MobileMethod]bool{
	payment.MobileEcocash:  true,
	payment.MobileOneMoney: true,
}

// Config carries the Paynow integration credentials and callback URLs.
type Config struct {
	IntegrationID  string
	IntegrationKey string
	ResultURL      string
	ReturnURL      string
}

// Adapter is the Paynow implementation of adapter.ProviderAdapter and
// adapter.MobilePayer. It does not implement adapter.Refunder: Paynow
// refunds are a manual merchant-dashboard operation.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	apiBaseURL string
	logger     *slog.Logger
}

// New constructs the Paynow adapter. Missing credentials are a configuration
// error, not a runtime payment failure.
func New(cfg Config, client *http.Client, logger *slog.Logger) (*Adapter, error) {
	if cfg.IntegrationID == "" || cfg.IntegrationKey == "" {
		return nil, fmt.Errorf("%w: paynow integration credentials not configured", payment.ErrConfiguration)
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
		logger:     logger.With("provider", payment.ProviderPaynow.String()),
	}, nil
}

func (a *Adapter) Provider() payment.Provider { return payment.ProviderPaynow }

func (a *Adapter) SupportedCurrencies() []string {
	out := make([]string, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

// SupportsMobileMethod implements adapter.MobilePayer.
func (a *Adapter) SupportsMobileMethod(method payment.MobileMethod) bool {
	return supportedMobileMethods[method]
}

// CreateWebPayment initiates a redirect payment. Unsupported currencies fail
// fast with no network call.
func (a *Adapter) CreateWebPayment(ctx context.Context, req payment.Request) payment.Response {
	if !adapter.CurrencySupported(a, req.Currency) {
		return a.failure(req, fmt.Sprintf("currency %s not supported by paynow", req.Currency))
	}

	fields := a.initiateFields(req)
	resp, err := a.post(ctx, a.apiBaseURL+initiatePath, fields)
	if err != nil {
		return a.failure(req, err.Error())
	}
	return a.initiateResponse(req, resp)
}

// CreateMobilePayment initiates an EcoCash or OneMoney collection. The payer
// authorizes on their handset; the response carries instructions rather than
// a redirect URL.
func (a *Adapter) CreateMobilePayment(ctx context.Context, req payment.MobileRequest) payment.Response {
	if !adapter.CurrencySupported(a, req.Currency) {
		return a.failure(req.Request, fmt.Sprintf("currency %s not supported by paynow", req.Currency))
	}
	if !a.SupportsMobileMethod(req.MobileMethod) {
		return a.failure(req.Request, fmt.Sprintf("mobile method %s not supported by paynow", req.MobileMethod))
	}

	fields := a.initiateFields(req.Request)
	fields = append(fields,
		field{"phone", req.PhoneNumber},
		field{"method", string(req.MobileMethod)},
	)
	fields = a.sealed(fields)

	resp, err := a.postSealed(ctx, a.apiBaseURL+remotePath, fields)
	if err != nil {
		return a.failure(req.Request, err.Error())
	}
	return a.initiateResponse(req.Request, resp)
}

// CheckStatus polls the transaction's poll URL and maps the native status
// through the Paynow table.
func (a *Adapter) CheckStatus(ctx context.Context, pollURL string) (payment.StatusResult, error) {
	if !strings.Contains(pollURL, "paynow.co.zw") && !strings.HasPrefix(pollURL, a.apiBaseURL) {
		return payment.StatusResult{}, fmt.Errorf("paynow: %q is not a paynow poll url", pollURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, pollURL, nil)
	if err != nil {
		return payment.StatusResult{}, fmt.Errorf("paynow: build poll request: %w", err)
	}
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return payment.StatusResult{}, fmt.Errorf("paynow: poll transaction: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return payment.StatusResult{}, fmt.Errorf("paynow: read poll response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return payment.StatusResult{}, fmt.Errorf("paynow: poll returned HTTP %d", httpResp.StatusCode)
	}

	fields, err := parseFields(string(body))
	if err != nil {
		return payment.StatusResult{}, fmt.Errorf("paynow: parse poll response: %w", err)
	}
	if !a.verifyHash(fields) {
		return payment.StatusResult{}, fmt.Errorf("paynow: poll response failed hash verification: %w", payment.ErrInvalidSignature)
	}

	native := fields.get("status")
	mapped, known := payment.MapNativeStatus(payment.ProviderPaynow, native)
	if !known {
		metrics.ReconcileAnomalies.WithLabelValues(payment.ProviderPaynow.String(), "unmapped_status").Inc()
		a.logger.Warn("unmapped paynow status, treating as pending", "native_status", native)
	}
	amount, _ := strconv.ParseFloat(fields.get("amount"), 64)

	result := payment.StatusResult{
		Reference:         fields.get("reference"),
		TransactionID:     fields.get("paynowreference"),
		Provider:          payment.ProviderPaynow,
		Status:            mapped,
		Paid:              mapped.Paid(),
		Amount:            amount,
		Currency:          "USD",
		ProviderReference: fields.get("paynowreference"),
		UpdatedAt:         time.Now().UTC(),
		Metadata: map[string]string{
			"pollUrl":      pollURL,
			"nativeStatus": native,
		},
	}
	if result.Paid {
		result.PaidAmount = amount
	}
	return result, nil
}

// HandleWebhook verifies and normalizes a Paynow result post. The hash is
// verified before anything else is trusted; a bad hash rejects the event
// with payment.ErrInvalidSignature and no state is mutated downstream.
func (a *Adapter) HandleWebhook(ctx context.Context, delivery adapter.WebhookDelivery) (payment.WebhookEvent, error) {
	fields, err := parseFields(string(delivery.Body))
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("paynow: parse webhook payload: %w", err)
	}

	reference := fields.get("reference")
	native := fields.get("status")
	if reference == "" || native == "" {
		return payment.WebhookEvent{}, fmt.Errorf("paynow: webhook payload missing reference or status")
	}
	if !a.verifyHash(fields) {
		return payment.WebhookEvent{}, fmt.Errorf("paynow: webhook hash mismatch for reference %s: %w", reference, payment.ErrInvalidSignature)
	}

	mapped, known := payment.MapNativeStatus(payment.ProviderPaynow, native)
	if !known {
		metrics.ReconcileAnomalies.WithLabelValues(payment.ProviderPaynow.String(), "unmapped_status").Inc()
		a.logger.Warn("unmapped paynow webhook status, treating as pending",
			"native_status", native, "reference", reference)
	}
	amount, _ := strconv.ParseFloat(fields.get("amount"), 64)

	return payment.WebhookEvent{
		Provider:      payment.ProviderPaynow,
		EventType:     "payment.status_changed",
		Reference:     reference,
		Status:        mapped,
		Amount:        amount,
		Currency:      "USD",
		TransactionID: fields.get("paynowreference"),
		Raw:           delivery.Body,
	}, nil
}

// field is one ordered key/value pair of a Paynow message. Order matters:
// the hash covers values in message order.
type field struct {
	key   string
	value string
}

type fieldList []field

func (f fieldList) get(key string) string {
	for _, kv := range f {
		if strings.EqualFold(kv.key, key) {
			return kv.value
		}
	}
	return ""
}

// initiateFields assembles the common initiate-transaction fields, unsealed.
func (a *Adapter) initiateFields(req payment.Request) fieldList {
	info := req.Description
	if info == "" {
		names := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			names = append(names, item.Name)
		}
		info = strings.Join(names, ", ")
	}
	return fieldList{
		{"resulturl", a.cfg.ResultURL},
		{"returnurl", a.cfg.ReturnURL},
		{"reference", req.Reference},
		{"amount", strconv.FormatFloat(req.Total(), 'f', 2, 64)},
		{"id", a.cfg.IntegrationID},
		{"additionalinfo", info},
		{"authemail", req.Email},
		{"status", "Message"},
	}
}

// sealed appends the SHA512 hash field covering everything before it.
func (a *Adapter) sealed(fields fieldList) fieldList {
	return append(fields, field{"hash", a.hash(fields)})
}

func (a *Adapter) hash(fields fieldList) string {
	var b strings.Builder
	for _, kv := range fields {
		if strings.EqualFold(kv.key, "hash") {
			continue
		}
		b.WriteString(kv.value)
	}
	b.WriteString(a.cfg.IntegrationKey)
	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (a *Adapter) verifyHash(fields fieldList) bool {
	received := fields.get("hash")
	if received == "" {
		return false
	}
	expected := a.hash(fields)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(received))) == 1
}

func (a *Adapter) post(ctx context.Context, endpoint string, fields fieldList) (fieldList, error) {
	return a.postSealed(ctx, endpoint, a.sealed(fields))
}

func (a *Adapter) postSealed(ctx context.Context, endpoint string, fields fieldList) (fieldList, error) {
	form := url.Values{}
	for _, kv := range fields {
		form.Set(kv.key, kv.value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("paynow: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("paynow: send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("paynow: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paynow: HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}
	return parseFields(string(body))
}

func (a *Adapter) initiateResponse(req payment.Request, fields fieldList) payment.Response {
	if !strings.EqualFold(fields.get("status"), "ok") {
		msg := fields.get("error")
		if msg == "" {
			msg = "payment initialization failed"
		}
		return a.failure(req, msg)
	}

	return payment.Response{
		Success:       true,
		Provider:      payment.ProviderPaynow,
		Reference:     req.Reference,
		TransactionID: req.Reference,
		RedirectURL:   fields.get("browserurl"),
		Instructions:  fields.get("instructions"),
		PollToken:     fields.get("pollurl"),
		Amount:        req.Total(),
		Currency:      req.Currency,
	}
}

func (a *Adapter) failure(req payment.Request, msg string) payment.Response {
	a.logger.Warn("paynow payment failed", "reference", req.Reference, "error", msg)
	return payment.Response{
		Success:   false,
		Provider:  payment.ProviderPaynow,
		Reference: req.Reference,
		Amount:    req.Total(),
		Currency:  req.Currency,
		Error:     msg,
	}
}

// parseFields decodes a URL-encoded Paynow message preserving field order.
func parseFields(raw string) (fieldList, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty message")
	}
	var fields fieldList
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("bad field key %q: %w", key, err)
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("bad field value for %q: %w", decodedKey, err)
		}
		fields = append(fields, field{decodedKey, decodedValue})
	}
	return fields, nil
}
