// Package s3store implements objectstore.Store on top of AWS S3,
// adopted from ethereum-go-ethereum's go.mod (aws-sdk-go-v2) per
// spec.md §6's storage.s3_bucket configuration — the teacher (Prysm)
// has no object-store driver of its own.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/prysmaticlabs/dna/dnaerr"
	"github.com/prysmaticlabs/dna/objectstore"
)

// NewDefaultClient builds an *s3.Client from the standard AWS config
// chain (environment, shared config file, IMDS), optionally pinned to a
// static access key pair when accessKeyID is non-empty, for deployments
// that pass storage.s3_access_key_id/storage.s3_secret_access_key
// instead of relying on an instance role.
func NewDefaultClient(ctx context.Context, region, accessKeyID, secretAccessKey string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, dnaerr.Wrap(err, dnaerr.Fatal, "s3store: load AWS config")
	}
	return s3.NewFromConfig(cfg), nil
}

// API is the subset of *s3.Client this package calls, so tests can
// supply a fake without standing up localstack.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Store implements objectstore.Store against one S3 bucket.
type Store struct {
	client API
	bucket string
}

func New(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func (s *Store) CreateBucket(ctx context.Context, name string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return dnaerr.Wrapf(err, dnaerr.Transient, "s3store: create bucket %q", name)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, opts objectstore.PutOptions) (objectstore.ETag, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(opts.IfNoneMatch)
	}
	if opts.IfMatch != "" {
		input.IfMatch = aws.String(string(opts.IfMatch))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailure(err) {
			return "", dnaerr.Wrapf(err, dnaerr.Precondition, "s3store: conditional put failed for %q", key)
		}
		return "", dnaerr.Wrapf(err, dnaerr.Transient, "s3store: put %q", key)
	}
	return objectstore.ETag(aws.ToString(out.ETag)), nil
}

func (s *Store) Get(ctx context.Context, key string, opts objectstore.GetOptions) (objectstore.Object, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if opts.IfNoneMatch != "" {
		input.IfNoneMatch = aws.String(string(opts.IfNoneMatch))
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.NotFound, "s3store: key %q not found", key)
		}
		if isNotModified(err) {
			return objectstore.Object{}, objectstore.ErrNotModified
		}
		return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.Transient, "s3store: get %q", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return objectstore.Object{}, dnaerr.Wrapf(err, dnaerr.Transient, "s3store: read body of %q", key)
	}
	return objectstore.Object{ETag: objectstore.ETag(aws.ToString(out.ETag)), Data: data}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return dnaerr.Wrapf(err, dnaerr.NotFound, "s3store: key %q not found", key)
		}
		return dnaerr.Wrapf(err, dnaerr.Transient, "s3store: delete %q", key)
	}
	return nil
}

func isPreconditionFailure(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

func isNotModified(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotModified"
	}
	return false
}
