// Package config loads the service configuration: provider credentials and
// flags, routing order, persistence, events and observability endpoints.
// A YAML file supplies the base; environment variables override, with dots
// and dashes mapped to underscores (e.g. PROVIDERS_PAYNOW_INTEGRATION_ID).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/nyuchitech/payments-core/internal/payment"
	"github.com/nyuchitech/payments-core/internal/policy"
)

type Paynow struct {
	IntegrationID  string `mapstructure:"integration-id"`
	IntegrationKey string `mapstructure:"integration-key"`
	ResultURL      string `mapstructure:"result-url"`
	ReturnURL      string `mapstructure:"return-url"`
	Enabled        bool   `mapstructure:"enabled"`
}

type Stripe struct {
	SecretKey     string `mapstructure:"secret-key"`
	WebhookSecret string `mapstructure:"webhook-secret"`
	SuccessURL    string `mapstructure:"success-url"`
	CancelURL     string `mapstructure:"cancel-url"`
	Enabled       bool   `mapstructure:"enabled"`
}

type Providers struct {
	Paynow Paynow `mapstructure:"paynow"`
	Stripe Stripe `mapstructure:"stripe"`
}

type Routing struct {
	Primary  string `mapstructure:"primary"`
	Fallback string `mapstructure:"fallback"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

type Kafka struct {
	BrokerURL string `mapstructure:"broker-url"`
	Topic     string `mapstructure:"topic"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Logs struct {
	LokiURL string `mapstructure:"loki-url"`
}

type Config struct {
	Providers Providers           `mapstructure:"providers"`
	Routing   Routing             `mapstructure:"routing"`
	Database  Database            `mapstructure:"database"`
	Kafka     Kafka               `mapstructure:"kafka"`
	Server    Server              `mapstructure:"server"`
	Logs      Logs                `mapstructure:"logs"`
	Policy    []policy.RuleConfig `mapstructure:"policy"`
}

// Load reads config.yaml from path with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
		// Env-only deployments run without a file.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Routing.Primary == "" {
		c.Routing.Primary = payment.ProviderPaynow.String()
	}
	if c.Routing.Fallback == "" {
		c.Routing.Fallback = payment.ProviderStripe.String()
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "payment-events"
	}
}

// Validate rejects configurations with no usable provider or unknown
// routing names. Credential presence is checked by each adapter's
// constructor, which owns its own requirements.
func (c *Config) Validate() error {
	if !c.Providers.Paynow.Enabled && !c.Providers.Stripe.Enabled {
		return fmt.Errorf("%w: no payment providers enabled", payment.ErrConfiguration)
	}
	if _, err := payment.ParseProvider(c.Routing.Primary); err != nil {
		return fmt.Errorf("%w: routing.primary: %v", payment.ErrConfiguration, err)
	}
	if _, err := payment.ParseProvider(c.Routing.Fallback); err != nil {
		return fmt.Errorf("%w: routing.fallback: %v", payment.ErrConfiguration, err)
	}
	return nil
}

// Primary returns the configured primary provider.
func (c *Config) Primary() payment.Provider {
	p, _ := payment.ParseProvider(c.Routing.Primary)
	return p
}

// Fallback returns the configured fallback provider.
func (c *Config) Fallback() payment.Provider {
	p, _ := payment.ParseProvider(c.Routing.Fallback)
	return p
}
