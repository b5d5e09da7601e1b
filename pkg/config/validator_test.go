package config

import (
	"testing"
	"time"

	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/mailer"
	"github.com/raywall/gifted-service/pkg/session"
	"github.com/stretchr/testify/assert"
)

func validConfig() *ServiceConfig {
	return &ServiceConfig{
		Service: ServiceDetails{
			Name:    "gifted-service",
			Runtime: RuntimeLocal,
			Port:    8080,
			AppURL:  "http://localhost:3000",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConf{Enabled: true, Level: "info", Format: "console"},
		AWS:     AWSConf{Region: "us-east-1"},
		Tables: TablesConf{
			Driver: DriverMemory,
			Names: keyspace.TableNames{
				Users: "Users", Gifts: "Gifts", Subscriptions: "Subscriptions",
				Payments: "Payments", Newsletter: "Newsletter", EmailTracking: "EmailTracking",
			},
		},
		Stripe: StripeConf{SecretKey: "sk_test", WebhookSecret: "whsec"},
		Email:  mailer.Config{AuthFrom: "auth@gifted.example", NewsletterFrom: "news@gifted.example"},
		Session: session.Config{
			Secret:  "0123456789abcdef0123456789abcdef",
			TTL:     time.Hour,
			LinkTTL: time.Minute,
		},
	}
}

func TestValidator_Validate(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr string
	}{
		{name: "valid config", mutate: func(*ServiceConfig) {}},
		{
			name:    "unknown runtime",
			mutate:  func(c *ServiceConfig) { c.Service.Runtime = "ecs" },
			wantErr: "Runtime",
		},
		{
			name:    "datadog without agent",
			mutate:  func(c *ServiceConfig) { c.Metrics.Datadog.Enabled = true },
			wantErr: "Addr",
		},
		{
			name:    "short session secret",
			mutate:  func(c *ServiceConfig) { c.Session.Secret = "short" },
			wantErr: "Secret",
		},
		{
			name:    "bad sender",
			mutate:  func(c *ServiceConfig) { c.Email.AuthFrom = "nobody" },
			wantErr: "AuthFrom",
		},
		{
			name:    "shared table names",
			mutate:  func(c *ServiceConfig) { c.Tables.Names.Payments = "Users" },
			wantErr: "share the name",
		},
		{
			name:    "google client without secret",
			mutate:  func(c *ServiceConfig) { c.Google.ClientID = "client-1" },
			wantErr: "ClientSecret",
		},
		{
			name: "google sign-in enabled",
			mutate: func(c *ServiceConfig) {
				c.Google.ClientID = "client-1"
				c.Google.ClientSecret = "secret-1"
			},
		},
		{
			name: "dev bypass outside local",
			mutate: func(c *ServiceConfig) {
				c.Service.Runtime = RuntimeLambda
				c.Session.DevBypass = true
			},
			wantErr: "dev_bypass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validator.Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
