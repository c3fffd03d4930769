package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContractMonitorCompilesEmbeddedSchemas(t *testing.T) {
	cm, err := NewContractMonitor()
	require.NoError(t, err)
	require.NotNil(t, cm)
}

func TestValidateCreatePayment(t *testing.T) {
	cm, err := NewContractMonitor()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		valid   bool
	}{
		{
			name:    "Minimal",
			payload: `{"items": [{"name": "Plan", "unitAmount": 25}]}`,
			valid:   true,
		},
		{
			name: "Full",
			payload: `{
				"items": [{"name": "Plan", "unitAmount": 25, "quantity": 2, "description": "Monthly"}],
				"currency": "USD",
				"description": "Subscription",
				"preferredProvider": "stripe",
				"metadata": {"campaign": "spring"}
			}`,
			valid: true,
		},
		{
			name:    "EmptyItems",
			payload: `{"items": []}`,
			valid:   false,
		},
		{
			name:    "MissingItems",
			payload: `{"currency": "USD"}`,
			valid:   false,
		},
		{
			name:    "UnnamedItem",
			payload: `{"items": [{"unitAmount": 25}]}`,
			valid:   false,
		},
		{
			name:    "NegativeAmount",
			payload: `{"items": [{"name": "Plan", "unitAmount": -1}]}`,
			valid:   false,
		},
		{
			name:    "UnknownProvider",
			payload: `{"items": [{"name": "Plan", "unitAmount": 25}], "preferredProvider": "paypal"}`,
			valid:   false,
		},
		{
			name:    "BadCurrencyShape",
			payload: `{"items": [{"name": "Plan", "unitAmount": 25}], "currency": "US DOLLARS"}`,
			valid:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, violations, err := cm.Validate(ContractCreatePayment, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, valid)
			if !tt.valid {
				assert.NotEmpty(t, violations)
			}
		})
	}
}

func TestValidateCreateMobilePayment(t *testing.T) {
	cm, err := NewContractMonitor()
	require.NoError(t, err)

	valid, _, err := cm.Validate(ContractCreateMobilePayment, []byte(`{
		"items": [{"name": "Airtime", "unitAmount": 5}],
		"phoneNumber": "0771234567",
		"mobileMethod": "ecocash"
	}`))
	require.NoError(t, err)
	assert.True(t, valid)

	valid, violations, err := cm.Validate(ContractCreateMobilePayment, []byte(`{
		"items": [{"name": "Airtime", "unitAmount": 5}],
		"mobileMethod": "ecocash"
	}`))
	require.NoError(t, err)
	assert.False(t, valid, "missing phone number must be rejected")
	assert.NotEmpty(t, violations)
}

func TestValidateMalformedJSON(t *testing.T) {
	cm, err := NewContractMonitor()
	require.NoError(t, err)

	_, _, err = cm.Validate(ContractCreatePayment, []byte(`{not json`))
	assert.Error(t, err)
}

func TestValidateUnknownContract(t *testing.T) {
	cm, err := NewContractMonitor()
	require.NoError(t, err)

	_, _, err = cm.Validate(Contract("schemas/missing.json"), []byte(`{}`))
	assert.Error(t, err)
}

func TestFormatErrors(t *testing.T) {
	assert.Empty(t, FormatErrors(nil))
	assert.Equal(t, "validation errors: a; b", FormatErrors([]string{"a", "b"}))
}
