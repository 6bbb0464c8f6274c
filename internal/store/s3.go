package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/acm19/picbatch/internal/logger"
)

// objectAPI is the subset of *s3.Client used by the S3 store.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Store keeps outputs as objects in an S3 bucket.
type s3Store struct {
	client     objectAPI
	presigner  presigner
	bucket     string
	prefix     string
	presignTTL time.Duration
}

// presigner builds a time-limited GET URL for key.
type presigner func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

// NewS3Store creates a Store backed by bucket using the default AWS config chain.
func NewS3Store(ctx context.Context, bucket, prefix string, presignTTL time.Duration) (Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	presignClient := s3.NewPresignClient(client)

	return &s3Store{
		client: client,
		presigner: func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
			req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(ttl))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
		bucket:     bucket,
		prefix:     strings.Trim(prefix, "/"),
		presignTTL: presignTTL,
	}, nil
}

// Put uploads data and returns a handle carrying a presigned download URL.
func (s *s3Store) Put(ctx context.Context, name string, data []byte, contentType string) (Handle, error) {
	key := path.Join(s.prefix, uuid.NewString(), name)

	logger.Debug("Uploading output to S3", "bucket", s.bucket, "key", key, "bytes", len(data))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Handle{}, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	h := Handle{
		Key:         key,
		URL:         fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size:        int64(len(data)),
		ContentType: contentType,
	}
	if s.presigner != nil {
		url, err := s.presigner(ctx, s.bucket, key, s.presignTTL)
		if err != nil {
			logger.Warn("Failed to presign output URL", "key", key, "error", err)
		} else {
			h.URL = url
		}
	}
	return h, nil
}

// Open streams the object body.
func (s *s3Store) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(h.Key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, h.Key)
		}
		return nil, fmt.Errorf("failed to download %s: %w", h.Key, err)
	}
	return out.Body, nil
}

// Release deletes the object. A missing object is reported as ErrHandleNotFound.
func (s *s3Store) Release(ctx context.Context, h Handle) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(h.Key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return fmt.Errorf("%w: %s", ErrHandleNotFound, h.Key)
		}
		return fmt.Errorf("failed to delete %s: %w", h.Key, err)
	}
	logger.Debug("Released S3 output", "bucket", s.bucket, "key", h.Key)
	return nil
}

// isNotFoundError checks if the error is a NotFound error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}
