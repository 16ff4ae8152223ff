// Package local implements the Storage Backend on a local filesystem
// directory, for development and tests. Its tests run the storagetest
// behavioral suite.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/storage"
)

// Backend is a filesystem-rooted Storage Backend. It is not safe for two
// processes to share a root directory that isn't on a filesystem with
// atomic rename semantics.
type Backend struct {
	root       string
	presignKey []byte
}

// New creates a filesystem-backed store rooted at root. root is created
// if it does not already exist.
func New(root string, presignKey []byte) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: failed to create root %s: %w", root, err)
	}
	if len(presignKey) == 0 {
		presignKey = []byte("claire-core-dev-presign-key")
	}
	return &Backend{root: root, presignKey: presignKey}, nil
}

func (b *Backend) path(bucket, key string) string {
	return filepath.Join(b.root, bucket, filepath.FromSlash(key))
}

func (b *Backend) metaPath(bucket, key string) string {
	return b.path(bucket, key) + ".meta"
}

// Put writes data atomically: it is staged to a temp file in the same
// directory and renamed into place, so a concurrent Get never observes a
// partially written object.
func (b *Backend) Put(ctx context.Context, bucket, key string, data []byte, mediaType string) error {
	dest := b.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("local storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("local storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("local storage: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local storage: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("local storage: rename into place: %w", err)
	}

	if err := os.WriteFile(b.metaPath(bucket, key), []byte(mediaType), 0o644); err != nil {
		return fmt.Errorf("local storage: write media type sidecar: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	data, err := os.ReadFile(b.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", apierr.NotFound(fmt.Sprintf("%s/%s", bucket, key))
		}
		return nil, "", fmt.Errorf("local storage: read: %w", err)
	}
	mediaType, _ := os.ReadFile(b.metaPath(bucket, key))
	return data, string(mediaType), nil
}

func (b *Backend) Head(ctx context.Context, bucket, key string) (storage.Metadata, error) {
	info, err := os.Stat(b.path(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Metadata{}, apierr.NotFound(fmt.Sprintf("%s/%s", bucket, key))
		}
		return storage.Metadata{}, fmt.Errorf("local storage: stat: %w", err)
	}
	mediaType, _ := os.ReadFile(b.metaPath(bucket, key))
	return storage.Metadata{
		SizeBytes:    info.Size(),
		MediaType:    string(mediaType),
		LastModified: info.ModTime(),
	}, nil
}

func (b *Backend) List(ctx context.Context, bucket, prefix, cursor string, limit int) ([]storage.Entry, string, error) {
	root := filepath.Join(b.root, bucket)
	var all []storage.Entry

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".meta") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		all = append(all, storage.Entry{Key: key, SizeBytes: info.Size(), LastModified: info.ModTime()})
		return nil
	})

	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil {
			start = n
		}
	}
	if start > len(all) {
		start = len(all)
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := all[start:end]
	nextCursor := ""
	if end < len(all) {
		nextCursor = strconv.Itoa(end)
	}
	return page, nextCursor, nil
}

func (b *Backend) Delete(ctx context.Context, bucket, key string) error {
	err := os.Remove(b.path(bucket, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("local storage: delete: %w", err)
	}
	os.Remove(b.metaPath(bucket, key))
	return nil
}

// PresignPut and PresignGet return file:// URLs carrying an HMAC token
// over (bucket, key, expiry), since local development has no analog to
// an object store's native presigned URL. VerifyPresigned below is what a
// local-only upload/download endpoint would check before touching disk.
func (b *Backend) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, mediaType string) (string, error) {
	return b.presign(bucket, key, ttl, "PUT")
}

func (b *Backend) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return b.presign(bucket, key, ttl, "GET")
}

func (b *Backend) presign(bucket, key string, ttl time.Duration, method string) (string, error) {
	expires := time.Now().Add(ttl).Unix()
	token := b.sign(bucket, key, method, expires)
	v := url.Values{}
	v.Set("method", method)
	v.Set("expires", strconv.FormatInt(expires, 10))
	v.Set("sig", token)
	return fmt.Sprintf("file:///%s/%s?%s", bucket, key, v.Encode()), nil
}

func (b *Backend) sign(bucket, key, method string, expires int64) string {
	mac := hmac.New(sha256.New, b.presignKey)
	mac.Write([]byte(fmt.Sprintf("%s:%s:%s:%d", method, bucket, key, expires)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPresigned checks a token produced by presign. It is exported so
// the HTTP surface's local-dev upload endpoint can authorize a presigned
// PUT without importing storage internals.
func (b *Backend) VerifyPresigned(bucket, key, method, expiresStr, sig string) error {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("local storage: invalid expires: %w", err)
	}
	if time.Now().Unix() > expires {
		return fmt.Errorf("local storage: presigned URL expired")
	}
	want := b.sign(bucket, key, method, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("local storage: presigned URL signature mismatch")
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("local storage: root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local storage: root %s is not a directory", b.root)
	}
	return nil
}
