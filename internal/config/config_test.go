package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyuchitech/payments-core/internal/payment"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	return dir
}

const baseConfig = `
providers:
  paynow:
    enabled: true
    integration-id: "12345"
    integration-key: "secret"
    result-url: "https://api.example.com/webhooks/paynow"
    return-url: "https://app.example.com/return"
  stripe:
    enabled: true
    secret-key: "sk_test_abc"
    webhook-secret: "whsec_abc"
    success-url: "https://app.example.com/success"
    cancel-url: "https://app.example.com/cancel"
server:
  port: "9090"
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Providers.Paynow.Enabled)
	assert.Equal(t, "12345", cfg.Providers.Paynow.IntegrationID)
	assert.Equal(t, "sk_test_abc", cfg.Providers.Stripe.SecretKey)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
providers:
  paynow:
    enabled: true
    integration-id: "12345"
    integration-key: "secret"
`))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, payment.ProviderPaynow, cfg.Primary())
	assert.Equal(t, payment.ProviderStripe, cfg.Fallback())
	assert.Equal(t, "payment-events", cfg.Kafka.Topic)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "7777")
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Server.Port)
}

func TestLoadRejectsNoEnabledProviders(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  paynow:
    enabled: false
  stripe:
    enabled: false
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrConfiguration)
}

func TestLoadRejectsUnknownRoutingProvider(t *testing.T) {
	_, err := Load(writeConfig(t, baseConfig+`
routing:
  primary: "paypal"
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrConfiguration)
}

func TestRoutingHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig+`
routing:
  primary: "stripe"
  fallback: "paynow"
`))
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderStripe, cfg.Primary())
	assert.Equal(t, payment.ProviderPaynow, cfg.Fallback())
}
