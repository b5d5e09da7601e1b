package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/accounts"
	"github.com/raywall/gifted-service/pkg/billing"
	"github.com/raywall/gifted-service/pkg/checkout"
	"github.com/raywall/gifted-service/pkg/config"
	"github.com/raywall/gifted-service/pkg/gifts"
	"github.com/raywall/gifted-service/pkg/httpapi"
	"github.com/raywall/gifted-service/pkg/mailer"
	"github.com/raywall/gifted-service/pkg/metrics"
	"github.com/raywall/gifted-service/pkg/newsletter"
	"github.com/raywall/gifted-service/pkg/oauth"
	"github.com/raywall/gifted-service/pkg/observability"
	"github.com/raywall/gifted-service/pkg/reconciler"
	"github.com/raywall/gifted-service/pkg/secrets"
	"github.com/raywall/gifted-service/pkg/session"
	"github.com/raywall/gifted-service/pkg/storage"
	"github.com/rs/zerolog/log"
)

type app struct {
	router     http.Handler
	newsletter *newsletter.Service
	metrics    metrics.Provider
}

func build(ctx context.Context, cfg *config.ServiceConfig) (*app, error) {
	provider, err := observability.SetupMetrics(cfg.Metrics, cfg.Service.Name)
	if err != nil {
		return nil, err
	}

	awsCfg, err := secrets.AWSConfig(ctx, cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var tables *keyspace.Tables
	switch cfg.Tables.Driver {
	case config.DriverMemory:
		log.Ctx(ctx).Warn().Msg("tables are in memory, data is lost on exit")
		tables = keyspace.NewMemoryTables(cfg.Tables.Names)
	default:
		tables = keyspace.NewTables(dynamodb.NewFromConfig(awsCfg), cfg.Tables.Names)
	}

	mail := mailer.New(sesv2.NewFromConfig(awsCfg), cfg.Email, cfg.Service.AppURL, tables.EmailTracking, provider)

	var images gifts.ImagePresigner
	if cfg.Storage.ImagesBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.Endpoint != ""
		})
		images = storage.NewImageUploads(s3.NewPresignClient(s3Client), cfg.Storage)
	}

	stripeClient := billing.NewStripeClient(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil)
	accountSvc := accounts.New(tables.Users, tables.EmailClaims)
	newsletterSvc := newsletter.New(tables.Newsletter, tables.EmailTracking, mail,
		newsletter.WithTopicARN(cfg.Feedback.TopicARN),
		newsletter.WithMetrics(provider),
	)

	var google httpapi.OAuthProvider
	if cfg.Google.Enabled() {
		google = oauth.NewGoogle(cfg.Google, strings.TrimRight(cfg.Service.AppURL, "/")+"/api/auth/callback/google")
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Billing:       reconciler.New(stripeClient, tables.Users, tables.Subscriptions, tables.Payments, provider),
		Newsletter:    newsletterSvc,
		Accounts:      accountSvc,
		Gifts:         gifts.New(tables.Gifts, images),
		Checkout:      checkout.New(stripeClient, accountSvc),
		Sessions:      session.NewManager(cfg.Session, tables.SignInLinks),
		Mailer:        mail,
		Google:        google,
		Metrics:       provider,
		AppURL:        cfg.Service.AppURL,
		Timeout:       cfg.Service.Timeout,
		SecureCookies: strings.HasPrefix(cfg.Service.AppURL, "https://"),
	})

	return &app{router: router, newsletter: newsletterSvc, metrics: provider}, nil
}
