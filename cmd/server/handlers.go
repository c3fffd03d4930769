package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/checkout"
	"github.com/nyuchitech/payments-core/internal/identity"
	"github.com/nyuchitech/payments-core/internal/monitor"
	"github.com/nyuchitech/payments-core/internal/orchestrator"
	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/reconciler"
	"github.com/nyuchitech/payments-core/internal/reporting"
	"github.com/nyuchitech/payments-core/internal/store"
)

// server holds the request handlers' shared dependencies.
type server struct {
	orch      *orchestrator.Orchestrator
	builder   *checkout.Builder
	contracts *monitor.ContractMonitor
	store     store.PaymentStore
	rec       *reconciler.Reconciler
	registry  adapter.Registry
	reporter  *reporting.RetrospectiveReporter
	logger    *slog.Logger
}

// recordLister is the reporting view of a store. Both store implementations
// provide it; the reconciliation contract deliberately does not.
type recordLister interface {
	Records(ctx context.Context) ([]store.PaymentRecord, error)
}

// callerMiddleware lifts the authenticated caller from the gateway headers
// onto the request context. Authentication itself happens upstream.
func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := identity.Caller{
			ID:             c.GetHeader("X-User-Id"),
			Email:          c.GetHeader("X-User-Email"),
			OrganizationID: c.GetHeader("X-Organization-Id"),
		}
		c.Request = c.Request.WithContext(identity.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

type createPaymentBody struct {
	checkout.Input
	PreferredProvider string `json:"preferredProvider,omitempty"`
}

func (s *server) createPayment(c *gin.Context) {
	body, ok := s.validatedBody(c, monitor.ContractCreatePayment)
	if !ok {
		return
	}

	var req createPaymentBody
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	var preferred payment.Provider
	if req.PreferredProvider != "" {
		p, err := payment.ParseProvider(req.PreferredProvider)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		preferred = p
	}

	caller, _ := identity.FromContext(c.Request.Context())
	paymentReq, err := s.builder.BuildWebRequest(c.Request.Context(), caller, req.Input)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.persistPending(c.Request.Context(), paymentReq, caller)

	resp, err := s.orch.CreateWebPayment(c.Request.Context(), paymentReq, preferred)
	if err != nil {
		if errors.Is(err, payment.ErrNoProviderAvailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.persistInitiation(c.Request.Context(), paymentReq.Reference, resp)
	c.JSON(http.StatusOK, resp)
}

func (s *server) createMobilePayment(c *gin.Context) {
	body, ok := s.validatedBody(c, monitor.ContractCreateMobilePayment)
	if !ok {
		return
	}

	var req checkout.MobileInput
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	caller, _ := identity.FromContext(c.Request.Context())
	paymentReq, err := s.builder.BuildMobileRequest(c.Request.Context(), caller, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.persistPending(c.Request.Context(), paymentReq.Request, caller)

	resp, err := s.orch.CreateMobilePayment(c.Request.Context(), paymentReq)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.persistInitiation(c.Request.Context(), paymentReq.Reference, resp)
	c.JSON(http.StatusOK, resp)
}

func (s *server) paymentStatus(c *gin.Context) {
	handle := c.Param("handle")

	var provider payment.Provider
	if name := c.Query("provider"); name != "" {
		p, err := payment.ParseProvider(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		provider = p
	}

	result, err := s.orch.CheckPaymentStatus(c.Request.Context(), handle, provider)
	if err != nil {
		if errors.Is(err, payment.ErrStatusUnavailable) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment status unavailable from all providers"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type refundBody struct {
	Amount   float64 `json:"amount,omitempty"`
	Provider string  `json:"provider,omitempty"`
}

func (s *server) refund(c *gin.Context) {
	handle := c.Param("handle")

	var req refundBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	var provider payment.Provider
	if req.Provider != "" {
		p, err := payment.ParseProvider(req.Provider)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		provider = p
	}

	settled, err := s.orch.RefundPayment(c.Request.Context(), handle, req.Amount, provider)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrRefundUnsupported):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, payment.ErrNoProviderAvailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": settled})
}

func (s *server) paymentMethods(c *gin.Context) {
	methods := s.orch.AvailablePaymentMethods(c.Query("currency"), c.Query("region"))
	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

func (s *server) currencies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"currencies": s.orch.SupportedCurrencies()})
}

func (s *server) fees(c *gin.Context) {
	amount, err := strconv.ParseFloat(c.Query("amount"), 64)
	if err != nil || amount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a non-negative number"})
		return
	}

	var provider payment.Provider
	if name := c.Query("provider"); name != "" {
		p, err := payment.ParseProvider(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		provider = p
	}

	c.JSON(http.StatusOK, gin.H{
		"amount": amount,
		"fee":    s.orch.CalculateFees(amount, provider),
	})
}

func (s *server) reference(c *gin.Context) {
	prefix := c.Query("prefix")
	if prefix == "" {
		prefix = "PAY"
	}
	c.JSON(http.StatusOK, gin.H{"reference": s.orch.GeneratePaymentReference(prefix)})
}

func (s *server) providerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.ProviderStatus())
}

func (s *server) report(c *gin.Context) {
	lister, ok := s.store.(recordLister)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reporting not supported by this store"})
		return
	}
	records, err := lister.Records(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.reporter.GenerateRetrospective(records))
}

// validatedBody reads the request body and checks it against the contract.
func (s *server) validatedBody(c *gin.Context, contract monitor.Contract) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	valid, violations, err := s.contracts.Validate(contract, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return nil, false
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return nil, false
	}
	return body, true
}

// persistPending writes the pre-initiation record. Store failures are
// logged, not surfaced: the provider call decides the caller-visible
// outcome and reconciliation will flag the orphaned webhook later.
func (s *server) persistPending(ctx context.Context, req payment.Request, caller identity.Caller) {
	record := &store.PaymentRecord{
		Reference:      req.Reference,
		PayerID:        caller.ID,
		OrganizationID: req.OrganizationID,
		Email:          req.Email,
		Amount:         req.Total(),
		Currency:       req.Currency,
		Status:         payment.StatusPending,
		Description:    req.Description,
		Items:          req.Items,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, record); err != nil {
		s.logger.Error("failed to persist pending payment",
			"reference", req.Reference, "error", err)
	}
}

func (s *server) persistInitiation(ctx context.Context, reference string, resp payment.Response) {
	if err := s.store.RecordInitiation(ctx, reference, resp); err != nil {
		s.logger.Error("failed to record payment initiation",
			"reference", reference, "error", err)
	}
}
