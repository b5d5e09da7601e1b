package config

import (
	"time"

	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/mailer"
	"github.com/raywall/gifted-service/pkg/oauth"
	"github.com/raywall/gifted-service/pkg/session"
	"github.com/raywall/gifted-service/pkg/storage"
)

// Runtimes served by cmd/server.
const (
	RuntimeLocal    = "local"
	RuntimeLambda   = "lambda"
	RuntimeFeedback = "feedback"
)

// Table drivers.
const (
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

// ServiceConfig is the root of the configuration file.
type ServiceConfig struct {
	Service  ServiceDetails `yaml:"service" validate:"required"`
	Logging  LoggingConf    `yaml:"logging"`
	Metrics  MetricsConf    `yaml:"metrics"`
	AWS      AWSConf        `yaml:"aws"`
	Tables   TablesConf     `yaml:"tables"`
	Stripe   StripeConf     `yaml:"stripe"`
	Email    mailer.Config  `yaml:"email"`
	Session  session.Config `yaml:"session"`
	Google   oauth.Config   `yaml:"google"`
	Storage  storage.Config `yaml:"storage"`
	Feedback FeedbackConf   `yaml:"feedback"`
}

// ServiceDetails holds the runtime settings of the process.
type ServiceDetails struct {
	Name    string        `yaml:"name" env:"SERVICE_NAME" envDefault:"gifted-service" validate:"required,hostname_rfc1123"`
	Runtime string        `yaml:"runtime" env:"SERVICE_RUNTIME" envDefault:"local" validate:"required,oneof=local lambda feedback"`
	Port    int           `yaml:"port" env:"PORT" envDefault:"8080" validate:"required_if=Runtime local"`
	AppURL  string        `yaml:"app_url" env:"NEXT_PUBLIC_APP_URL" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" env:"SERVICE_TIMEOUT" envDefault:"15s" validate:"gt=0"`
}

type LoggingConf struct {
	Enabled bool   `yaml:"enabled" env:"LOG_ENABLED" envDefault:"true"`
	Level   string `yaml:"level" env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
}

type MetricsConf struct {
	Datadog DatadogConf `yaml:"datadog"`
}

type DatadogConf struct {
	Enabled   bool     `yaml:"enabled" env:"DD_ENABLED"`
	Addr      string   `yaml:"addr" env:"DD_AGENT_HOST" validate:"required_if=Enabled true"`
	Namespace string   `yaml:"namespace" env:"DD_NAMESPACE" envDefault:"gifted."`
	Tags      []string `yaml:"tags" env:"DD_TAGS"`
}

type AWSConf struct {
	Region   string `yaml:"region" env:"AWS_REGION" envDefault:"us-east-1" validate:"required"`
	Endpoint string `yaml:"endpoint" env:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

type TablesConf struct {
	Driver string              `yaml:"driver" env:"STORAGE_DRIVER" envDefault:"dynamodb" validate:"oneof=dynamodb memory"`
	Names  keyspace.TableNames `yaml:"names"`
}

type StripeConf struct {
	SecretKey     string `yaml:"secret_key" env:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

type FeedbackConf struct {
	TopicARN string `yaml:"topic_arn" env:"AWS_SNS_FEEDBACK_TOPIC_ARN"`
}
