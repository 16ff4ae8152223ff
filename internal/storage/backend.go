// Package storage defines the Storage Backend contract shared by the
// local filesystem and S3 implementations. The behavioral test suite in
// internal/storage/storagetest checks an implementation against this
// contract; the local backend's tests run it.
package storage

import (
	"context"
	"time"
)

// Entry is one listed object.
type Entry struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// Metadata is what Head returns for an existing object.
type Metadata struct {
	SizeBytes    int64
	MediaType    string
	LastModified time.Time
}

// Backend is the namespaced key/value+blob store contract. Every key is
// scoped under an organization and bucket: {org}/{bucket}/{key}. No
// implementation performs implicit transcoding — Put followed by Get
// MUST return byte-identical content.
type Backend interface {
	Put(ctx context.Context, bucket, key string, data []byte, mediaType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, string, error)
	Head(ctx context.Context, bucket, key string) (Metadata, error)
	List(ctx context.Context, bucket, prefix, cursor string, limit int) ([]Entry, string, error)
	Delete(ctx context.Context, bucket, key string) error
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, mediaType string) (string, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Ping(ctx context.Context) error
}
