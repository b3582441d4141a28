package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// LoadAWS loads the SDK configuration, honouring AWS_PROFILE and AWS_REGION
func (c *Config) LoadAWS(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.AWSConfig.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.AWSConfig.Profile))
	}
	if c.AWSConfig.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.AWSConfig.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// RequireBucket fails when no data lake bucket is configured
func (c *Config) RequireBucket() error {
	if c.AWSConfig.BucketName == "" {
		return fmt.Errorf("S3_BUCKET_NAME is required")
	}
	return nil
}
