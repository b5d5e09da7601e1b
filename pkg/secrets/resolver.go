// Package secrets resolves configuration values stored in AWS Systems
// Manager Parameter Store or Secrets Manager.
//
// A string value is a reference when it has one of the forms
//
//	ssm:<parameter name>
//	secretsmanager:<secret id>
//	secretsmanager:<secret id>#<json field>
//
// Any other value is returned unchanged.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const (
	prefixSSM            = "ssm:"
	prefixSecretsManager = "secretsmanager:"
)

var ErrMissingField = errors.New("secrets: field not present in secret")

type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type SecretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type Resolver struct {
	ssm     SSMClient
	secrets SecretsClient
}

func NewResolver(ssmClient SSMClient, secretsClient SecretsClient) *Resolver {
	return &Resolver{ssm: ssmClient, secrets: secretsClient}
}

// NewAWSResolver builds a Resolver over real clients.
func NewAWSResolver(cfg aws.Config) *Resolver {
	return NewResolver(ssm.NewFromConfig(cfg), secretsmanager.NewFromConfig(cfg))
}

// IsReference reports whether value names a stored secret.
func IsReference(value string) bool {
	return strings.HasPrefix(value, prefixSSM) || strings.HasPrefix(value, prefixSecretsManager)
}

// Resolve returns the secret value of ref, or ref itself when it is not a
// reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, prefixSSM):
		return r.parameter(ctx, strings.TrimPrefix(ref, prefixSSM))
	case strings.HasPrefix(ref, prefixSecretsManager):
		id, field, _ := strings.Cut(strings.TrimPrefix(ref, prefixSecretsManager), "#")
		return r.secret(ctx, id, field)
	}
	return ref, nil
}

func (r *Resolver) parameter(ctx context.Context, name string) (string, error) {
	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: ssm %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("secrets: ssm %s: empty parameter", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

func (r *Resolver) secret(ctx context.Context, id, field string) (string, error) {
	out, err := r.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: secretsmanager %s: %w", id, err)
	}
	val := aws.ToString(out.SecretString)
	if field == "" {
		return val, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return "", fmt.Errorf("secrets: secretsmanager %s: not a JSON secret: %w", id, err)
	}
	v, ok := data[field]
	if !ok {
		return "", fmt.Errorf("%w: %s#%s", ErrMissingField, id, field)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// ResolveStruct replaces every reference found in the string fields of the
// struct pointed to by v, descending into nested structs and pointers.
func (r *Resolver) ResolveStruct(ctx context.Context, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("secrets: ResolveStruct needs a non-nil pointer")
	}
	return r.walk(ctx, rv.Elem(), "")
}

func (r *Resolver) walk(ctx context.Context, v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return r.walk(ctx, v.Elem(), path)
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if err := r.walk(ctx, v.Field(i), path+"."+t.Field(i).Name); err != nil {
				return err
			}
		}
	case reflect.String:
		if !IsReference(v.String()) || !v.CanSet() {
			return nil
		}
		val, err := r.Resolve(ctx, v.String())
		if err != nil {
			return fmt.Errorf("%s: %w", strings.TrimPrefix(path, "."), err)
		}
		v.SetString(val)
	}
	return nil
}
