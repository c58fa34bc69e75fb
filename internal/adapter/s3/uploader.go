package s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// KeyTimeLayout is the ddmmyyyyHHMMSS stamp embedded in object keys.
const KeyTimeLayout = "02012006150405"

// Options configures an Uploader. Credentials are passed explicitly; an empty
// access key means anonymous requests.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Uploader writes objects to a single S3 bucket.
// It implements pipeline.ObjectStore.
type Uploader struct {
	client *awss3.Client
	bucket string
	logger *slog.Logger
}

// NewUploader creates an S3 client for the configured bucket. A non-empty
// Endpoint selects an S3-compatible store and path-style addressing.
func NewUploader(opts Options, logger *slog.Logger) *Uploader {
	s3opts := awss3.Options{
		Region:                     opts.Region,
		Credentials:                credentialsFor(opts),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if opts.Endpoint != "" {
		s3opts.BaseEndpoint = aws.String(opts.Endpoint)
		s3opts.UsePathStyle = true
	}

	return &Uploader{
		client: awss3.New(s3opts),
		bucket: opts.Bucket,
		logger: logger,
	}
}

// Put uploads body under key.
func (u *Uploader) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	u.logger.Info("object uploaded", "bucket", u.bucket, "key", key, "bytes", len(body))
	return nil
}

// Location returns the s3:// URI for key.
func (u *Uploader) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", u.bucket, key)
}

// Key builds a timestamped CSV object key, e.g.
// current_weather_data_madison_14112023161320.csv.
func Key(prefix string, now time.Time) string {
	return prefix + now.Format(KeyTimeLayout) + ".csv"
}

func credentialsFor(opts Options) aws.CredentialsProvider {
	if opts.AccessKeyID == "" {
		return aws.AnonymousCredentials{}
	}
	return aws.NewCredentialsCache(
		credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
	)
}
