// Package s3 implements the Storage Backend on AWS S3, for staging and
// production. Its tests do not run the storagetest behavioral suite,
// since presigning needs a real *s3.Client; they exercise Put, Get,
// Head, List, Delete and Ping against an in-memory fake client.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pathwaybio/claire-core/internal/apierr"
	storagepkg "github.com/pathwaybio/claire-core/internal/storage"
)

// API is the subset of the S3 client the backend needs; it lets tests
// substitute a fake without a live AWS account. The real *s3.Client
// satisfies it, and additionally gets multipart upload and presigning
// wired in by newFromClient.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Backend is an S3-backed Storage Backend. The bucket argument of every
// method is used as the AWS bucket name as given; callers pass the names
// configured in Config.Storage.Buckets.
type Backend struct {
	client        API
	presignClient *s3.PresignClient
	uploader      *manager.Uploader
	partSize      int64
	pingBucket    string
}

// New constructs an S3 backend from the process's ambient AWS
// configuration (environment, shared config file, or IAM role).
// pingBucket names the bucket used for the liveness Ping check.
func New(ctx context.Context, region, pingBucket string, partSize int64) (*Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3 storage: loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return newFromClient(client, pingBucket, partSize), nil
}

func newFromClient(client API, pingBucket string, partSize int64) *Backend {
	if partSize <= 0 {
		partSize = manager.DefaultUploadPartSize
	}
	b := &Backend{
		client:     client,
		partSize:   partSize,
		pingBucket: pingBucket,
	}
	if c, ok := client.(*s3.Client); ok {
		b.presignClient = s3.NewPresignClient(c)
		b.uploader = manager.NewUploader(c, func(u *manager.Uploader) {
			u.PartSize = partSize
		})
	}
	return b
}

func (b *Backend) Put(ctx context.Context, bucket, key string, data []byte, mediaType string) error {
	if b.uploader != nil {
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(mediaType),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return fmt.Errorf("s3 storage: put s3://%s/%s: %w", bucket, key, err)
		}
		return nil
	}
	// Fall back to a direct PutObject for fake clients in tests that don't
	// implement the multipart upload surface.
	putter, ok := b.client.(interface {
		PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	})
	if !ok {
		return fmt.Errorf("s3 storage: client does not support PutObject")
	}
	_, err := putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mediaType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3 storage: put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, "", apierr.NotFound(fmt.Sprintf("%s/%s", bucket, key))
		}
		return nil, "", fmt.Errorf("s3 storage: get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("s3 storage: read body: %w", err)
	}
	mediaType := ""
	if out.ContentType != nil {
		mediaType = *out.ContentType
	}
	return data, mediaType, nil
}

func (b *Backend) Head(ctx context.Context, bucket, key string) (storagepkg.Metadata, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return storagepkg.Metadata{}, apierr.NotFound(fmt.Sprintf("%s/%s", bucket, key))
		}
		return storagepkg.Metadata{}, fmt.Errorf("s3 storage: head s3://%s/%s: %w", bucket, key, err)
	}
	md := storagepkg.Metadata{}
	if out.ContentLength != nil {
		md.SizeBytes = *out.ContentLength
	}
	if out.ContentType != nil {
		md.MediaType = *out.ContentType
	}
	if out.LastModified != nil {
		md.LastModified = *out.LastModified
	}
	return md, nil
}

func (b *Backend) List(ctx context.Context, bucket, prefix, cursor string, limit int) ([]storagepkg.Entry, string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(limit)),
	}
	if cursor != "" {
		in.ContinuationToken = aws.String(cursor)
	}
	out, err := b.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, "", fmt.Errorf("s3 storage: list s3://%s/%s: %w", bucket, prefix, err)
	}

	entries := make([]storagepkg.Entry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		e := storagepkg.Entry{}
		if obj.Key != nil {
			e.Key = *obj.Key
		}
		if obj.Size != nil {
			e.SizeBytes = *obj.Size
		}
		if obj.LastModified != nil {
			e.LastModified = *obj.LastModified
		}
		entries = append(entries, e)
	}

	next := ""
	if out.NextContinuationToken != nil {
		next = *out.NextContinuationToken
	}
	return entries, next, nil
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 storage: delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *Backend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, mediaType string) (string, error) {
	if b.presignClient == nil {
		return "", fmt.Errorf("s3 storage: presigning unavailable for this client")
	}
	req, err := b.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(mediaType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 storage: presign put: %w", err)
	}
	return req.URL, nil
}

func (b *Backend) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if b.presignClient == nil {
		return "", fmt.Errorf("s3 storage: presigning unavailable for this client")
	}
	req, err := b.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 storage: presign get: %w", err)
	}
	return req.URL, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.pingBucket)})
	if err != nil {
		return fmt.Errorf("s3 storage: bucket %s unreachable: %w", b.pingBucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if asType(err, &nf) {
		return true
	}
	var nb *types.NoSuchBucket
	if asType(err, &nb) {
		return true
	}
	var apiErr smithy.APIError
	if asType(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

func asType(err error, target any) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if ok := tryAssign(err, target); ok {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func tryAssign(err error, target any) bool {
	switch t := target.(type) {
	case **types.NoSuchKey:
		if v, ok := err.(*types.NoSuchKey); ok {
			*t = v
			return true
		}
	case **types.NoSuchBucket:
		if v, ok := err.(*types.NoSuchBucket); ok {
			*t = v
			return true
		}
	case *smithy.APIError:
		if v, ok := err.(smithy.APIError); ok {
			*t = v
			return true
		}
	}
	return false
}
