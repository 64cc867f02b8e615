// Package storage builds the S3 client used by the object-store content
// fetcher. Credentials and endpoint come from the environment so the same
// binary works against AWS and MinIO-style deployments.
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/graphloom/loom/internal/util"
)

// S3Configured reports whether the environment carries enough settings to
// talk to an object store. Workers skip registering the s3 fetcher when it
// returns false.
func S3Configured() bool {
	return util.GetEnv("AWS_ENDPOINT") != "" || util.GetEnv("AWS_REGION") != ""
}

// DefaultBucket returns the bucket used for content refs that do not name
// one themselves.
func DefaultBucket() string {
	return util.GetEnv("AWS_BUCKET")
}

// NewS3Client builds an S3 client from AWS_REGION, AWS_ENDPOINT,
// AWS_ACCESS_KEY and AWS_SECRET_KEY. Path-style addressing is forced so
// self-hosted stores without wildcard DNS work out of the box.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}
