package secrets

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

var (
	awsCfg  aws.Config
	awsOnce sync.Once
	awsErr  error
)

// AWSConfig loads the shared AWS configuration (env vars, profile, IAM role)
// once per process. A non-empty endpoint points every client at it, as used
// with LocalStack or DynamoDB Local.
func AWSConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	awsOnce.Do(func() {
		opts := []func(*config.LoadOptions) error{}
		if region != "" {
			opts = append(opts, config.WithRegion(region))
		}
		if endpoint != "" {
			opts = append(opts, config.WithBaseEndpoint(endpoint))
		}
		awsCfg, awsErr = config.LoadDefaultConfig(ctx, opts...)
	})
	return awsCfg, awsErr
}
