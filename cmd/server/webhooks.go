package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/nyuchitech/payments-core/internal/adapter"
	"github.com/nyuchitech/payments-core/internal/payment"
)

// paynowWebhook handles Paynow result postbacks. Paynow retries any
// non-200 response aggressively, so the acknowledgment is always 200; a
// rejected delivery changes no state and is kept in the audit log.
func (s *server) paynowWebhook(c *gin.Context) {
	a, ok := s.registry[payment.ProviderPaynow]
	if !ok {
		c.String(http.StatusNotFound, "paynow not enabled")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusOK, "ok")
		return
	}

	_, _ = s.rec.ProcessDelivery(c.Request.Context(), a, adapter.WebhookDelivery{
		Body:    body,
		Headers: headerMap(c),
	})
	c.String(http.StatusOK, "ok")
}

// stripeWebhook handles Stripe event deliveries. A bad signature is a 400
// so Stripe surfaces the misconfiguration on its dashboard; everything else
// acknowledges with 200, including events we deliberately ignore.
func (s *server) stripeWebhook(c *gin.Context) {
	a, ok := s.registry[payment.ProviderStripe]
	if !ok {
		c.String(http.StatusNotFound, "stripe not enabled")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read body")
		return
	}

	_, err = s.rec.ProcessDelivery(c.Request.Context(), a, adapter.WebhookDelivery{
		Body:    body,
		Headers: headerMap(c),
	})
	if errors.Is(err, payment.ErrInvalidSignature) {
		c.String(http.StatusBadRequest, "invalid signature")
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func headerMap(c *gin.Context) map[string]string {
	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.GetHeader(name)
	}
	return headers
}
