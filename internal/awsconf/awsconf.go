// Package awsconf builds the AWS SDK configuration shared by the SQS queue
// and the SES notifier.
package awsconf

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog/log"
)

// Load returns an AWS config for region. A non-empty endpoint routes every
// client to it (LocalStack) with static test credentials.
func Load(ctx context.Context, region, endpoint string) (aws.Config, error) {
	if endpoint != "" {
		log.Info().Str("endpoint", endpoint).Msg("routing AWS calls to custom endpoint")
		return awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithBaseEndpoint(endpoint),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
	}
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
}
