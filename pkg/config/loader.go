// Package config loads the service configuration: an optional YAML file,
// overlaid by environment variables, with secret references resolved and
// every section validated.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/raywall/gifted-service/envloader"
	"github.com/raywall/gifted-service/pkg/secrets"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the optional configuration file.
const EnvConfigPath = "CONFIG_FILE_PATH"

// SecretResolver resolves ssm: and secretsmanager: references in place.
type SecretResolver interface {
	ResolveStruct(ctx context.Context, v any) error
}

// Load builds the configuration. path may be empty, in which case only the
// environment is read. When resolver is nil and the configuration holds
// secret references, an AWS resolver is created from the aws section.
func Load(ctx context.Context, path string, resolver SecretResolver) (*ServiceConfig, error) {
	cfg := &ServiceConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := envloader.Load(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if resolver == nil && hasReferences(cfg) {
		awsCfg, err := secrets.AWSConfig(ctx, cfg.AWS.Region, cfg.AWS.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("config: aws: %w", err)
		}
		resolver = secrets.NewAWSResolver(awsCfg)
	}
	if resolver != nil {
		if err := resolver.ResolveStruct(ctx, cfg); err != nil {
			return nil, fmt.Errorf("config: secrets: %w", err)
		}
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the file named by CONFIG_FILE_PATH.
func LoadFromEnv(ctx context.Context) (*ServiceConfig, error) {
	return Load(ctx, os.Getenv(EnvConfigPath), nil)
}

func hasReferences(cfg *ServiceConfig) bool {
	for _, v := range []string{
		cfg.Stripe.SecretKey,
		cfg.Stripe.WebhookSecret,
		cfg.Session.Secret,
	} {
		if secrets.IsReference(v) {
			return true
		}
	}
	return false
}
