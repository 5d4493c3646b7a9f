package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3 construction parameters. Credentials come from the
// default AWS chain.
type S3Config struct {
	URL       string // s3://bucket/prefix
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 publishes into a bucket under a key prefix.
type S3 struct {
	client putter
	loc    Location
}

// NewS3 loads the AWS configuration and returns a publisher for cfg.URL.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	loc, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, loc: loc}, nil
}

// Publish uploads r as prefix/name and returns its s3:// URL.
func (s *S3) Publish(ctx context.Context, name string, r io.Reader) (string, error) {
	key := s.loc.Key(name)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.loc.Bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType(name)),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.loc.Bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.loc.Bucket, key), nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".pdb"), strings.HasSuffix(name, ".prom"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
