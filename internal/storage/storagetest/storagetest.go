// Package storagetest is a behavioral test suite for Storage Backend
// implementations. internal/storage/local runs it; internal/storage/s3
// does not, since its in-memory fake client cannot presign.
package storagetest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/storage"
)

// Run exercises backend against the contract every Storage Backend
// implementation must satisfy. bucket must already exist (or be
// creatable implicitly) in the backend under test.
func Run(t *testing.T, backend storage.Backend, bucket string) {
	t.Helper()

	t.Run("PutGetRoundTripIsByteIdentical", func(t *testing.T) {
		ctx := context.Background()
		data := []byte("the quick brown fox jumps over the lazy dog")
		key := "round-trip/sample.txt"

		if err := backend.Put(ctx, bucket, key, data, "text/plain"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, mediaType, err := backend.Get(ctx, bucket, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("round trip not byte-identical: got %q want %q", got, data)
		}
		if mediaType != "text/plain" {
			t.Fatalf("media type = %q, want text/plain", mediaType)
		}
		wantSum := sha256.Sum256(data)
		gotSum := sha256.Sum256(got)
		if wantSum != gotSum {
			t.Fatalf("sha256 mismatch after round trip")
		}
	})

	t.Run("PutIsIdempotentForSameBytes", func(t *testing.T) {
		ctx := context.Background()
		data := []byte("idempotent payload")
		key := "idempotent/sample.bin"

		if err := backend.Put(ctx, bucket, key, data, "application/octet-stream"); err != nil {
			t.Fatalf("first Put: %v", err)
		}
		if err := backend.Put(ctx, bucket, key, data, "application/octet-stream"); err != nil {
			t.Fatalf("second Put: %v", err)
		}
		got, _, err := backend.Get(ctx, bucket, key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("re-put payload diverged")
		}
	})

	t.Run("GetMissingKeyReturnsNotFound", func(t *testing.T) {
		ctx := context.Background()
		_, _, err := backend.Get(ctx, bucket, "does/not/exist")
		if err == nil {
			t.Fatal("expected error for missing key")
		}
		if apierr.KindOf(err) != apierr.KindNotFound {
			t.Fatalf("error kind = %v, want NotFound", apierr.KindOf(err))
		}
	})

	t.Run("HeadReportsSizeAndMediaType", func(t *testing.T) {
		ctx := context.Background()
		data := []byte("0123456789")
		key := "head/sample.bin"
		if err := backend.Put(ctx, bucket, key, data, "application/octet-stream"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		md, err := backend.Head(ctx, bucket, key)
		if err != nil {
			t.Fatalf("Head: %v", err)
		}
		if md.SizeBytes != int64(len(data)) {
			t.Fatalf("SizeBytes = %d, want %d", md.SizeBytes, len(data))
		}
		if md.MediaType != "application/octet-stream" {
			t.Fatalf("MediaType = %q, want application/octet-stream", md.MediaType)
		}
	})

	t.Run("ListPaginatesUnderPrefix", func(t *testing.T) {
		ctx := context.Background()
		prefix := "list-pagination/"
		for i := 0; i < 5; i++ {
			key := fmt.Sprintf("%sitem-%02d.txt", prefix, i)
			if err := backend.Put(ctx, bucket, key, []byte("x"), "text/plain"); err != nil {
				t.Fatalf("Put %s: %v", key, err)
			}
		}

		seen := map[string]bool{}
		cursor := ""
		for {
			entries, next, err := backend.List(ctx, bucket, prefix, cursor, 2)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			for _, e := range entries {
				seen[e.Key] = true
			}
			if next == "" {
				break
			}
			cursor = next
		}
		if len(seen) != 5 {
			t.Fatalf("listed %d keys, want 5", len(seen))
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		key := "delete/sample.txt"
		if err := backend.Put(ctx, bucket, key, []byte("gone soon"), "text/plain"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := backend.Delete(ctx, bucket, key); err != nil {
			t.Fatalf("first Delete: %v", err)
		}
		if err := backend.Delete(ctx, bucket, key); err != nil {
			t.Fatalf("second Delete (should be idempotent): %v", err)
		}
		if _, _, err := backend.Get(ctx, bucket, key); apierr.KindOf(err) != apierr.KindNotFound {
			t.Fatalf("expected NotFound after delete, got %v", err)
		}
	})

	t.Run("PresignedURLsAreNonEmpty", func(t *testing.T) {
		ctx := context.Background()
		key := "presign/sample.bin"
		putURL, err := backend.PresignPut(ctx, bucket, key, 5*time.Minute, "application/octet-stream")
		if err != nil {
			t.Fatalf("PresignPut: %v", err)
		}
		if putURL == "" {
			t.Fatal("PresignPut returned empty URL")
		}
		if err := backend.Put(ctx, bucket, key, []byte("presigned"), "application/octet-stream"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		getURL, err := backend.PresignGet(ctx, bucket, key, 5*time.Minute)
		if err != nil {
			t.Fatalf("PresignGet: %v", err)
		}
		if getURL == "" {
			t.Fatal("PresignGet returned empty URL")
		}
	})

	t.Run("PingSucceedsAgainstLiveBackend", func(t *testing.T) {
		if err := backend.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
