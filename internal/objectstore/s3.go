// Package objectstore hands out time-boxed S3 capability URLs for document
// content. It never proxies bytes.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

var (
	// ErrUnavailable marks failures worth retrying: throttling, server
	// faults, transport errors.
	ErrUnavailable = errors.New("objectstore: unavailable")

	// ErrRejected marks client faults such as AccessDenied. Retrying will
	// not help.
	ErrRejected = errors.New("objectstore: request rejected")
)

type presignClient interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Config struct {
	Bucket string
	Region string
	// Endpoint targets an S3-compatible store (MinIO, LocalStack). Path-style
	// addressing is used when set.
	Endpoint string
}

type Presigner struct {
	client presignClient
	bucket string
}

func New(ctx context.Context, cfg Config) (*Presigner, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(s3.NewPresignClient(client), cfg.Bucket), nil
}

func NewWithClient(client presignClient, bucket string) *Presigner {
	return &Presigner{client: client, bucket: bucket}
}

// GetURL returns a URL that reads key for ttl.
func (p *Presigner) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("presign get", err)
	}
	return req.URL, nil
}

// PutURL returns a URL that writes key with the given content type for ttl.
func (p *Presigner) PutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("presign put", err)
	}
	return req.URL, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout", "RequestTimeTooSkewed":
			return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, apiErr.ErrorCode())
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, apiErr.ErrorCode())
		}
		return fmt.Errorf("%s: %w: %s", op, ErrRejected, apiErr.ErrorCode())
	}

	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// ContentKey is the storage key of a document's bytes:
// tenants/{t}/companies/{c}/rooms/{r}/{documentID}/{fileName}.
func ContentKey(tenantID, companyID, roomID, documentID uuid.UUID, fileName string) string {
	return fmt.Sprintf("tenants/%s/companies/%s/rooms/%s/%s/%s",
		tenantID, companyID, roomID, documentID, SafeFileName(fileName))
}

// SafeFileName reduces name to a single path segment.
func SafeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "file"
	}
	return name
}
