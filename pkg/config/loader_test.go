package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	err error
}

func (f fakeResolver) ResolveStruct(_ context.Context, v any) error {
	if f.err != nil {
		return f.err
	}
	cfg := v.(*ServiceConfig)
	if cfg.Stripe.SecretKey == "ssm:/gifted/stripe" {
		cfg.Stripe.SecretKey = "sk_resolved"
	}
	return nil
}

const fileConfig = `
service:
  name: gifted-service
  app_url: https://gifted.example
  timeout: 3s
logging:
  level: debug
tables:
  driver: memory
stripe:
  secret_key: ssm:/gifted/stripe
  webhook_secret: whsec_file
email:
  auth_from: auth@gifted.example
  newsletter_from: news@gifted.example
session:
  secret: 0123456789abcdef0123456789abcdef
  admin_user_ids: [admin-1]
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileEnvAndSecrets(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("AWS_DYNAMODB_GIFTS_TABLE", "gifts-prod")

	cfg, err := Load(context.Background(), writeFile(t, fileConfig), fakeResolver{})
	require.NoError(t, err)

	assert.Equal(t, "https://gifted.example", cfg.Service.AppURL)
	assert.Equal(t, 3*time.Second, cfg.Service.Timeout)
	assert.Equal(t, 8080, cfg.Service.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sk_resolved", cfg.Stripe.SecretKey)
	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "gifts-prod", cfg.Tables.Names.Gifts)
	assert.Equal(t, "Users", cfg.Tables.Names.Users)
	assert.Equal(t, []string{"admin-1"}, cfg.Session.AdminUserIDs)
	assert.Equal(t, 720*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Storage.UploadTTL)
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx, filepath.Join(t.TempDir(), "missing.yaml"), fakeResolver{})
	assert.ErrorContains(t, err, "read")

	_, err = Load(ctx, writeFile(t, "service: [unclosed"), fakeResolver{})
	assert.ErrorContains(t, err, "parse")

	_, err = Load(ctx, writeFile(t, fileConfig), fakeResolver{err: errors.New("AccessDenied")})
	assert.ErrorContains(t, err, "AccessDenied")

	t.Setenv("SESSION_TTL", "forever")
	_, err = Load(ctx, writeFile(t, fileConfig), fakeResolver{})
	assert.ErrorContains(t, err, "SESSION_TTL")
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(context.Background(), writeFile(t, "service:\n  name: gifted-service\n"), fakeResolver{})
	assert.ErrorContains(t, err, "invalid structure")
}
