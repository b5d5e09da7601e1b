// Command provision prepares the AWS resources of the service.
//
//	provision create-tables [-config service.yaml]
//	provision validate -config service.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/raywall/gifted-service/envloader"
	"github.com/raywall/gifted-service/keyspace"
	"github.com/raywall/gifted-service/pkg/config"
	"github.com/raywall/gifted-service/pkg/secrets"
	"gopkg.in/yaml.v3"
)

const tableWait = 2 * time.Minute

// TableAPI is the part of the DynamoDB client used for provisioning.
type TableAPI interface {
	dynamodb.DescribeTableAPIClient
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// provisionConf is the subset of the service configuration provisioning
// needs, so that it runs without application secrets.
type provisionConf struct {
	AWS    config.AWSConf    `yaml:"aws"`
	Tables config.TablesConf `yaml:"tables"`
}

var newTableAPI = func(ctx context.Context, conf config.AWSConf) (TableAPI, error) {
	cfg, err := secrets.AWSConfig(ctx, conf.Region, conf.Endpoint)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("expected a command: create-tables, validate")
	}

	switch args[0] {
	case "create-tables":
		fs := flag.NewFlagSet("create-tables", flag.ContinueOnError)
		path := fs.String("config", os.Getenv(config.EnvConfigPath), "optional YAML configuration file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		conf, err := loadProvisionConf(*path)
		if err != nil {
			return err
		}
		api, err := newTableAPI(ctx, conf.AWS)
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		return createTables(ctx, api, keyspace.Definitions(conf.Tables.Names), out)

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		path := fs.String("config", "", "YAML configuration file")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return validate(ctx, *path, out)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func loadProvisionConf(path string) (*provisionConf, error) {
	conf := &provisionConf{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := envloader.Load(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// createTables creates every table, skipping the ones that already exist.
// TTL is enabled on new tables once they are active.
func createTables(ctx context.Context, api TableAPI, defs []keyspace.TableDefinition, out io.Writer) error {
	for _, def := range defs {
		name := aws.ToString(def.Input.TableName)

		_, err := api.CreateTable(ctx, def.Input)
		var inUse *types.ResourceInUseException
		switch {
		case errors.As(err, &inUse):
			fmt.Fprintf(out, "table %s already exists, skipped\n", name)
			continue
		case err != nil:
			return fmt.Errorf("create table %s: %w", name, err)
		}
		fmt.Fprintf(out, "table %s created\n", name)

		if def.TTLAttribute == "" {
			continue
		}
		waiter := dynamodb.NewTableExistsWaiter(api)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: def.Input.TableName}, tableWait); err != nil {
			return fmt.Errorf("wait for table %s: %w", name, err)
		}
		_, err = api.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: def.Input.TableName,
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String(def.TTLAttribute),
				Enabled:       aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("enable ttl on %s: %w", name, err)
		}
		fmt.Fprintf(out, "table %s ttl enabled on %s\n", name, def.TTLAttribute)
	}
	return nil
}

type report struct {
	Valid  bool   `json:"valid"`
	Errors string `json:"errors,omitempty"`
}

// validate loads the full configuration, printing JSON when OUTPUT_FORMAT
// is json. Secret references are not resolved.
func validate(ctx context.Context, path string, out io.Writer) error {
	if path == "" {
		return errors.New("validate: -config is required")
	}
	_, err := config.Load(ctx, path, noopResolver{})

	if os.Getenv("OUTPUT_FORMAT") == "json" {
		r := report{Valid: err == nil}
		if err != nil {
			r.Errors = err.Error()
		}
		if encErr := json.NewEncoder(out).Encode(r); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "configuration %s is valid\n", path)
	return nil
}

type noopResolver struct{}

func (noopResolver) ResolveStruct(context.Context, any) error { return nil }
