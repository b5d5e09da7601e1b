package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSSM struct {
	GetParameterFunc func(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func (m *MockSSM) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return m.GetParameterFunc(ctx, params, optFns...)
}

type MockSecrets struct {
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *MockSecrets) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return m.GetSecretValueFunc(ctx, params, optFns...)
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(
		&MockSSM{GetParameterFunc: func(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
			if aws.ToString(in.Name) != "/gifted/stripe-key" {
				return nil, errors.New("ParameterNotFound")
			}
			assert.True(t, aws.ToBool(in.WithDecryption))
			return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String("sk_test_1")}}, nil
		}},
		&MockSecrets{GetSecretValueFunc: func(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			switch aws.ToString(in.SecretId) {
			case "gifted/session":
				return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"secret":"s3cr3t","rounds":12}`)}, nil
			case "gifted/plain":
				return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("plain-value")}, nil
			}
			return nil, errors.New("ResourceNotFoundException")
		}},
	)
}

func TestResolve(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	cases := map[string]string{
		"literal":                              "literal",
		"ssm:/gifted/stripe-key":               "sk_test_1",
		"secretsmanager:gifted/plain":          "plain-value",
		"secretsmanager:gifted/session#secret": "s3cr3t",
		"secretsmanager:gifted/session#rounds": "12",
	}
	for ref, want := range cases {
		got, err := r.Resolve(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, want, got, ref)
	}
}

func TestResolve_Errors(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "ssm:/missing")
	assert.ErrorContains(t, err, "ParameterNotFound")

	_, err = r.Resolve(ctx, "secretsmanager:gifted/session#nope")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = r.Resolve(ctx, "secretsmanager:gifted/plain#field")
	assert.ErrorContains(t, err, "not a JSON secret")
}

func TestResolveStruct(t *testing.T) {
	type stripeConf struct {
		SecretKey string
		Webhook   string
	}
	type conf struct {
		Name    string
		Stripe  stripeConf
		Session *struct{ Secret string }
		Port    int
		hidden  string
	}
	c := conf{
		Name:    "gifted",
		Stripe:  stripeConf{SecretKey: "ssm:/gifted/stripe-key", Webhook: "whsec_literal"},
		Session: &struct{ Secret string }{Secret: "secretsmanager:gifted/session#secret"},
		hidden:  "ssm:/not-touched",
	}

	require.NoError(t, newResolver(t).ResolveStruct(context.Background(), &c))
	assert.Equal(t, "sk_test_1", c.Stripe.SecretKey)
	assert.Equal(t, "whsec_literal", c.Stripe.Webhook)
	assert.Equal(t, "s3cr3t", c.Session.Secret)
	assert.Equal(t, "ssm:/not-touched", c.hidden)

	bad := conf{Stripe: stripeConf{SecretKey: "ssm:/missing"}}
	err := newResolver(t).ResolveStruct(context.Background(), &bad)
	assert.ErrorContains(t, err, "Stripe.SecretKey")

	assert.Error(t, newResolver(t).ResolveStruct(context.Background(), c))
}
