package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTableAPI struct {
	mock.Mock
}

func (m *mockTableAPI) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(aws.ToString(params.TableName))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DescribeTableOutput), args.Error(1)
}

func (m *mockTableAPI) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(aws.ToString(params.TableName))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.CreateTableOutput), args.Error(1)
}

func (m *mockTableAPI) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	args := m.Called(aws.ToString(params.TableName), aws.ToString(params.TimeToLiveSpecification.AttributeName))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.UpdateTimeToLiveOutput), args.Error(1)
}

var testNames = keyspace.TableNames{
	Users: "Users", Gifts: "Gifts", Subscriptions: "Subscriptions",
	Payments: "Payments", Newsletter: "Newsletter", EmailTracking: "EmailTracking",
}

func TestCreateTables_SkipsExistingAndEnablesTTL(t *testing.T) {
	api := &mockTableAPI{}
	api.On("CreateTable", "Users").Return(nil, &types.ResourceInUseException{Message: aws.String("exists")})
	for _, name := range []string{"Gifts", "Subscriptions", "Payments", "Newsletter", "EmailTracking"} {
		api.On("CreateTable", name).Return(&dynamodb.CreateTableOutput{}, nil)
	}
	api.On("DescribeTable", "EmailTracking").Return(&dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableStatus: types.TableStatusActive},
	}, nil)
	api.On("UpdateTimeToLive", "EmailTracking", "expires_at").Return(&dynamodb.UpdateTimeToLiveOutput{}, nil)

	var out bytes.Buffer
	require.NoError(t, createTables(context.Background(), api, keyspace.Definitions(testNames), &out))

	assert.Contains(t, out.String(), "table Users already exists, skipped")
	assert.Contains(t, out.String(), "table EmailTracking ttl enabled on expires_at")
	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "UpdateTimeToLive", 1)
}

func TestCreateTables_StopsOnError(t *testing.T) {
	api := &mockTableAPI{}
	api.On("CreateTable", "Users").Return(nil, assert.AnError)

	err := createTables(context.Background(), api, keyspace.Definitions(testNames), &bytes.Buffer{})
	assert.ErrorIs(t, err, assert.AnError)
	api.AssertNumberOfCalls(t, "CreateTable", 1)
}

func TestRun_CreateTablesUsesConfiguredNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tables:\n  names:\n    users: dev-users\n"), 0o600))

	api := &mockTableAPI{}
	api.On("CreateTable", mock.Anything).Return(nil, &types.ResourceInUseException{})

	original := newTableAPI
	newTableAPI = func(context.Context, config.AWSConf) (TableAPI, error) { return api, nil }
	defer func() { newTableAPI = original }()

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"create-tables", "-config", path}, &out))
	assert.Contains(t, out.String(), "table dev-users already exists")
	assert.Contains(t, out.String(), "table Gifts already exists")
}

func TestRun_Validate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
service:
  name: cli-test
  app_url: https://app.example.com
stripe:
  secret_key: ssm:/gifted/stripe
  webhook_secret: whsec_1
email:
  auth_from: auth@example.com
  newsletter_from: news@example.com
session:
  secret: 0123456789abcdef0123456789abcdef
`), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("service:\n  runtime: mainframe\n"), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"validate", "-config", good}, &out))
	assert.Contains(t, out.String(), "is valid")

	t.Setenv("OUTPUT_FORMAT", "json")
	out.Reset()
	assert.Error(t, run(context.Background(), []string{"validate", "-config", bad}, &out))
	assert.Contains(t, out.String(), `"valid":false`)
}

func TestRun_UnknownCommand(t *testing.T) {
	assert.Error(t, run(context.Background(), nil, &bytes.Buffer{}))
	assert.Error(t, run(context.Background(), []string{"drop-everything"}, &bytes.Buffer{}))
}
