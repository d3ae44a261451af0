// Package archive stores probe pairs from spoof-suspect verification attempts
// in object storage for later review.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"faceauth/internal/platform/config"
)

// Probe is one archived verification attempt.
type Probe struct {
	Username string
	Origin   string
	Reason   string
	At       time.Time
	Images   [][]byte
}

// ObjectPutter is the subset of *s3.Client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archive struct {
	client ObjectPutter
	bucket string
}

func NewS3Archive(client ObjectPutter, bucket string) (*S3Archive, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	return &S3Archive{client: client, bucket: bucket}, nil
}

// Store uploads every image under a fresh prefix and returns that prefix.
func (a *S3Archive) Store(ctx context.Context, p Probe) (string, error) {
	prefix := fmt.Sprintf("probes/%s/%s/%s",
		p.At.UTC().Format("2006/01/02"), safeSegment(p.Username), uuid.NewString())

	for i, img := range p.Images {
		key := fmt.Sprintf("%s/image%d", prefix, i+1)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(a.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(img),
			ContentLength: aws.Int64(int64(len(img))),
			ContentType:   aws.String(http.DetectContentType(img)),
			Metadata: map[string]string{
				"username": p.Username,
				"origin":   p.Origin,
				"reason":   p.Reason,
			},
		})
		if err != nil {
			return "", fmt.Errorf("put archived probe %s: %w", key, err)
		}
	}
	return prefix, nil
}

// NewS3Client builds an S3 client from the archive settings. A custom
// endpoint (MinIO, localstack) switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func safeSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
