// Package file implements the File Service: inline and presigned
// uploads with byte-exact integrity, media type sniffing against an
// allowlist, and a background sweep of orphaned uploads.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/log"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/storage"
)

// Config bounds the File Service per the files.* options.
type Config struct {
	MaxSizeBytes       int64
	MaxSizeBytesInline int64
	AllowedMediaTypes  []string
	SweepAge           time.Duration
	SweepInterval      time.Duration
}

// Service is the File Service.
type Service struct {
	backend storage.Backend
	bucket  string
	cfg     Config
	stopCh  chan struct{}
}

// New constructs a Service backed by bucket.
func New(backend storage.Backend, bucket string, cfg Config) *Service {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 5 * 1024 * 1024 * 1024
	}
	if cfg.MaxSizeBytesInline <= 0 {
		cfg.MaxSizeBytesInline = 6 * 1024 * 1024
	}
	if len(cfg.AllowedMediaTypes) == 0 {
		cfg.AllowedMediaTypes = []string{
			"image/png", "image/jpeg", "application/pdf",
			"application/json", "text/plain", "text/csv",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}
	}
	if cfg.SweepAge <= 0 {
		cfg.SweepAge = 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	return &Service{backend: backend, bucket: bucket, cfg: cfg, stopCh: make(chan struct{})}
}

// fileKey returns the storage key for a finalized file, scoped by the
// owning sop (optional) and the calendar month of creation.
func fileKey(sopID, fileID string, now time.Time) string {
	if sopID == "" {
		return fmt.Sprintf("files/%04d/%02d/%s", now.Year(), now.Month(), fileID)
	}
	return fmt.Sprintf("files/%s/%04d/%02d/%s", sopID, now.Year(), now.Month(), fileID)
}

// UploadInline accepts a complete byte stream from the HTTP surface,
// hashing the same stream it persists so no intermediate encoding stage
// can silently corrupt the bytes.
func (s *Service) UploadInline(ctx context.Context, owner, sopID, originalName, declaredMediaType string, r io.Reader) (model.File, error) {
	var buf bytes.Buffer
	hasher := sha256.New()
	limited := io.LimitReader(r, s.cfg.MaxSizeBytesInline+1)
	n, err := io.Copy(io.MultiWriter(&buf, hasher), limited)
	if err != nil {
		return model.File{}, apierr.Wrap(apierr.KindUploadIncomplete, "reading upload", err)
	}
	if n > s.cfg.MaxSizeBytesInline {
		return model.File{}, apierr.New(apierr.KindFileTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxSizeBytesInline))
	}

	data := buf.Bytes()
	mediaType, err := s.resolveMediaType(declaredMediaType, data)
	if err != nil {
		return model.File{}, err
	}

	sum := hasher.Sum(nil)
	now := time.Now().UTC()
	fileID := deriveFileID(sum)
	key := fileKey(sopID, fileID, now)

	if err := s.backend.Put(ctx, s.bucket, key, data, mediaType); err != nil {
		return model.File{}, fmt.Errorf("file service: writing upload: %w", err)
	}

	f := model.File{
		FileID:       fileID,
		OriginalName: originalName,
		MediaType:    mediaType,
		SizeBytes:    n,
		SHA256:       hex.EncodeToString(sum),
		Owner:        owner,
		CreatedAt:    now,
		StorageKey:   key,
	}
	if err := s.writeMeta(ctx, f); err != nil {
		return model.File{}, err
	}
	return f, nil
}

// ReservePresigned issues a presigned PUT URL for a client to upload
// directly to the backend. The key is reserved up front so Finalize can
// locate the bytes once the client reports completion.
func (s *Service) ReservePresigned(ctx context.Context, owner, sopID, declaredMediaType string, ttl time.Duration) (fileID, uploadURL string, err error) {
	fileID = uuid.NewString()
	now := time.Now().UTC()
	key := fileKey(sopID, fileID, now)
	url, err := s.backend.PresignPut(ctx, s.bucket, key, ttl, declaredMediaType)
	if err != nil {
		return "", "", fmt.Errorf("file service: presigning upload: %w", err)
	}
	return fileID, url, nil
}

// FinalizePresigned verifies a presigned upload landed intact: it heads
// the object for size and media type, reads it back to compute the
// authoritative sha256, and rejects (deleting the partial object) on any
// mismatch against a client-asserted hash.
func (s *Service) FinalizePresigned(ctx context.Context, owner, sopID, fileID, originalName string, clientAssertedSHA256 string, createdAt time.Time) (model.File, error) {
	key := fileKey(sopID, fileID, createdAt)

	meta, err := s.backend.Head(ctx, s.bucket, key)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.File{}, apierr.New(apierr.KindUploadIncomplete, "presigned upload not found")
		}
		return model.File{}, fmt.Errorf("file service: heading upload: %w", err)
	}
	if meta.SizeBytes > s.cfg.MaxSizeBytes {
		_ = s.backend.Delete(ctx, s.bucket, key)
		return model.File{}, apierr.New(apierr.KindFileTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxSizeBytes))
	}

	data, mediaType, err := s.backend.Get(ctx, s.bucket, key)
	if err != nil {
		return model.File{}, fmt.Errorf("file service: verifying upload: %w", err)
	}
	if _, err := s.resolveMediaType(mediaType, data); err != nil {
		_ = s.backend.Delete(ctx, s.bucket, key)
		return model.File{}, err
	}

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if clientAssertedSHA256 != "" && !strings.EqualFold(clientAssertedSHA256, actual) {
		_ = s.backend.Delete(ctx, s.bucket, key)
		return model.File{}, apierr.New(apierr.KindChecksumMismatch, "uploaded content does not match asserted checksum")
	}

	f := model.File{
		FileID:       fileID,
		OriginalName: originalName,
		MediaType:    mediaType,
		SizeBytes:    int64(len(data)),
		SHA256:       actual,
		Owner:        owner,
		CreatedAt:    createdAt,
		StorageKey:   key,
	}
	if err := s.writeMeta(ctx, f); err != nil {
		return model.File{}, err
	}
	return f, nil
}

// resolveMediaType sniffs data's byte signature and cross-checks it
// against declared, rejecting anything outside the configured allowlist.
func (s *Service) resolveMediaType(declared string, data []byte) (string, error) {
	sniffed := sniff(data)

	// Prefer the sniffed signature when it disagrees with the declared
	// header; a declared type that merely lacks the charset suffix
	// net/http.DetectContentType adds is not treated as a mismatch.
	resolved := sniffed
	if declared != "" && (strings.HasPrefix(declared, sniffed) || strings.HasPrefix(sniffed, "text/plain")) {
		resolved = declared
	}

	for _, mt := range s.cfg.AllowedMediaTypes {
		if resolved == mt {
			return resolved, nil
		}
	}
	return "", apierr.New(apierr.KindMediaTypeRejected, fmt.Sprintf("media type %q is not permitted", resolved))
}

// magic-byte table for formats net/http.DetectContentType doesn't
// distinguish precisely enough (office formats are all zip containers).
var magicTable = []struct {
	prefix    []byte
	mediaType string
}{
	{[]byte("%PDF-"), "application/pdf"},
	{[]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, "image/png"},
	{[]byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
}

func sniff(data []byte) string {
	for _, m := range magicTable {
		if bytes.HasPrefix(data, m.prefix) {
			return m.mediaType
		}
	}
	return http.DetectContentType(data)
}

func deriveFileID(sum []byte) string {
	return hex.EncodeToString(sum[:12]) + "-" + uuid.NewString()[:8]
}

func metaKey(key string) string { return key + ".meta.json" }

func idIndexKey(fileID string) string { return "files/_index/" + fileID + ".json" }

func (s *Service) writeMeta(ctx context.Context, f model.File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("file service: marshaling metadata: %w", err)
	}
	if err := s.backend.Put(ctx, s.bucket, metaKey(f.StorageKey), data, "application/json"); err != nil {
		return fmt.Errorf("file service: writing metadata: %w", err)
	}
	// A second copy indexed by file_id lets callers (the Submission
	// Store resolving attachments) look a file up without knowing its
	// storage key, which is derived from upload time and sop_id.
	if err := s.backend.Put(ctx, s.bucket, idIndexKey(f.FileID), data, "application/json"); err != nil {
		return fmt.Errorf("file service: writing id index: %w", err)
	}
	return nil
}

// GetByID resolves a file by its file_id, independent of the sop_id and
// upload month encoded in its storage key.
func (s *Service) GetByID(ctx context.Context, fileID string) (model.File, error) {
	data, _, err := s.backend.Get(ctx, s.bucket, idIndexKey(fileID))
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.File{}, apierr.NotFound("file")
		}
		return model.File{}, fmt.Errorf("file service: get by id: %w", err)
	}
	var f model.File
	if err := json.Unmarshal(data, &f); err != nil {
		return model.File{}, apierr.Wrap(apierr.KindInternal, "malformed file metadata", err)
	}
	return f, nil
}

// Get returns the metadata for a previously finalized file.
func (s *Service) Get(ctx context.Context, storageKey string) (model.File, error) {
	data, _, err := s.backend.Get(ctx, s.bucket, metaKey(storageKey))
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.File{}, apierr.NotFound("file")
		}
		return model.File{}, fmt.Errorf("file service: get metadata: %w", err)
	}
	var f model.File
	if err := json.Unmarshal(data, &f); err != nil {
		return model.File{}, apierr.Wrap(apierr.KindInternal, "malformed file metadata", err)
	}
	return f, nil
}

// Bind marks a file as bound to a submission, making it ineligible for
// the orphan sweep.
func (s *Service) Bind(ctx context.Context, storageKey string) error {
	f, err := s.Get(ctx, storageKey)
	if err != nil {
		return err
	}
	if f.Bound {
		return nil
	}
	f.Bound = true
	return s.writeMeta(ctx, f)
}

// StartSweep launches the orphan sweep goroutine, deleting unbound files
// older than cfg.SweepAge on every cfg.SweepInterval tick. Call Stop to
// end the goroutine.
func (s *Service) StartSweep(ctx context.Context) {
	go s.runSweep(ctx)
}

// Stop ends a sweep goroutine started by StartSweep.
func (s *Service) Stop() {
	close(s.stopCh)
}

// Sweep runs a single orphan sweep pass. Exposed so an operator can
// trigger a one-shot pass outside the StartSweep ticker loop, e.g. from
// a cron-driven invocation of the CLI instead of the long-running
// server process.
func (s *Service) Sweep(ctx context.Context) error {
	return s.sweepOnce(ctx)
}

func (s *Service) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	logger := log.WithComponent("file.sweep")
	for {
		select {
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("sweep pass failed")
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweepOnce deletes unbound files whose metadata is older than
// cfg.SweepAge. It is idempotent: a file already deleted by a prior pass
// or another process is silently skipped.
func (s *Service) sweepOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.SweepAge)
	cursor := ""
	for {
		entries, next, err := s.backend.List(ctx, s.bucket, "files/", cursor, 200)
		if err != nil {
			return fmt.Errorf("file service: listing for sweep: %w", err)
		}
		for _, entry := range entries {
			if !strings.HasSuffix(entry.Key, ".meta.json") {
				continue
			}
			if entry.LastModified.After(cutoff) {
				continue
			}
			data, _, err := s.backend.Get(ctx, s.bucket, entry.Key)
			if err != nil {
				continue
			}
			var f model.File
			if err := json.Unmarshal(data, &f); err != nil || f.Bound {
				continue
			}
			_ = s.backend.Delete(ctx, s.bucket, f.StorageKey)
			_ = s.backend.Delete(ctx, s.bucket, entry.Key)
			_ = s.backend.Delete(ctx, s.bucket, idIndexKey(f.FileID))
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}
