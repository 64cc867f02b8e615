// Package s3 serves s3-scheme content references.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/loader"
)

// Fetcher loads objects from S3 or any S3-compatible store. A reference
// may name its own bucket; otherwise the fetcher's default bucket
// applies.
type Fetcher struct {
	client *awss3.Client
	bucket string
	cache  *loader.Cache
}

// NewFetcher wraps an existing S3 client. See internal/storage for the
// environment-driven client constructor.
func NewFetcher(client *awss3.Client, defaultBucket string) *Fetcher {
	return &Fetcher{
		client: client,
		bucket: defaultBucket,
		cache:  loader.NewCache(),
	}
}

func (f *Fetcher) Fetch(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	bucket := ref.Bucket
	if bucket == "" {
		bucket = f.bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 ref has no bucket and no default is configured")
	}
	if ref.Key == "" {
		return nil, fmt.Errorf("s3 ref has no key")
	}

	return f.cache.Do(bucket+"/"+ref.Key, func() ([]byte, error) {
		out, err := f.client.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(ref.Key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get s3 object %s/%s: %w", bucket, ref.Key, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, fmt.Errorf("failed to read s3 object %s/%s: %w", bucket, ref.Key, err)
		}
		return buf.Bytes(), nil
	})
}
