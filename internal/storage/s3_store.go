// Package storage provides an Amazon S3 implementation of the core.ArtifactStore interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ContentTypeMP3 is stored on every uploaded object so browsers play it inline.
const ContentTypeMP3 = "audio/mpeg"

var (
	// ErrBucketEmpty indicates that the store was created without a bucket.
	ErrBucketEmpty = errors.New("bucket cannot be empty")
	// ErrKeyEmpty indicates an upload or presign without an object key.
	ErrKeyEmpty = errors.New("object key cannot be empty")
	// ErrExpiryNotPositive indicates a presign request with a non-positive lifetime.
	ErrExpiryNotPositive = errors.New("url expiry must be positive")
)

// Uploader is the subset of the S3 transfer manager used by S3Store.
type Uploader interface {
	Upload(
		ctx context.Context,
		input *s3.PutObjectInput,
		opts ...func(*manager.Uploader),
	) (*manager.UploadOutput, error)
}

// Presigner is the subset of the S3 presign client used by S3Store.
type Presigner interface {
	PresignGetObject(
		ctx context.Context,
		params *s3.GetObjectInput,
		optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)
}

// S3Store implements the core.ArtifactStore interface using Amazon S3.
type S3Store struct {
	uploader  Uploader
	presigner Presigner
	bucket    string
}

// New creates an S3Store that uploads with the transfer manager and presigns with the same client.
func New(client *s3.Client, bucket string) (*S3Store, error) {
	return NewWithAPIs(manager.NewUploader(client), s3.NewPresignClient(client), bucket)
}

// NewWithAPIs creates an S3Store from explicit uploader and presigner implementations.
func NewWithAPIs(uploader Uploader, presigner Presigner, bucket string) (*S3Store, error) {
	if bucket == "" {
		return nil, ErrBucketEmpty
	}

	return &S3Store{
		uploader:  uploader,
		presigner: presigner,
		bucket:    bucket,
	}, nil
}

// Bucket returns the bucket this store writes to.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// UploadFile uploads the file at localPath under key.
func (s *S3Store) UploadFile(ctx context.Context, localPath, key string) error {
	if key == "" {
		return ErrKeyEmpty
	}

	file, err := os.Open(localPath) // #nosec G304 -- path is generated by the handler
	if err != nil {
		return fmt.Errorf("failed to open staged file '%s': %w", localPath, err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(ContentTypeMP3),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// PresignGetURL returns a GET URL for key that stays valid for expiry.
func (s *S3Store) PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if key == "" {
		return "", ErrKeyEmpty
	}

	if expiry <= 0 {
		return "", fmt.Errorf("%w: got %s", ErrExpiryNotPositive, expiry)
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign object '%s' in bucket '%s': %w", key, s.bucket, err)
	}

	return req.URL, nil
}
