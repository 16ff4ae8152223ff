// Package draft implements the autosave-and-resume Draft Store: mutable,
// owner-scoped partial form state keyed by (sop_id, owner, draft_id).
package draft

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/storage"
)

// Store is the Draft Store.
type Store struct {
	backend    storage.Backend
	bucket     string
	ttl        time.Duration
	maxPerUser int
}

// Config bounds the store per spec.md §4.1's drafts.* options.
type Config struct {
	TTL        time.Duration
	MaxPerUser int
}

// New constructs a Store backed by bucket.
func New(backend storage.Backend, bucket string, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = 25
	}
	return &Store{backend: backend, bucket: bucket, ttl: cfg.TTL, maxPerUser: cfg.MaxPerUser}
}

func (s *Store) key(owner, sopID, draftID string) string {
	return fmt.Sprintf("drafts/%s/%s/%s.json", sopID, owner, draftID)
}

// Create stores a new draft, enforcing the per-user ceiling: when the
// owner already has maxPerUser drafts, the least-recently-updated one
// across all their SOPs is evicted first.
func (s *Store) Create(ctx context.Context, owner, sopID, sopVersion string, body map[string]any) (model.Draft, error) {
	existing, err := s.List(ctx, owner, "")
	if err != nil {
		return model.Draft{}, err
	}
	if len(existing) >= s.maxPerUser {
		oldest := existing[0]
		for _, d := range existing[1:] {
			if d.UpdatedAt.Before(oldest.UpdatedAt) {
				oldest = d
			}
		}
		if err := s.Delete(ctx, owner, oldest.SOPID, oldest.DraftID); err != nil {
			return model.Draft{}, fmt.Errorf("draft store: evicting oldest draft: %w", err)
		}
	}

	d := model.Draft{
		SOPID:      sopID,
		SOPVersion: sopVersion,
		DraftID:    uuid.NewString(),
		Owner:      owner,
		Body:       body,
		UpdatedAt:  time.Now().UTC(),
	}
	d.Checksum = checksumBody(body)

	if err := s.write(ctx, d); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}

// Update replaces a draft's body. Last write wins; the caller gets the
// new timestamp and checksum back to detect divergence from other
// writers.
func (s *Store) Update(ctx context.Context, owner, sopID, draftID string, body map[string]any) (model.Draft, error) {
	existing, err := s.Get(ctx, owner, sopID, draftID)
	if err != nil {
		return model.Draft{}, err
	}
	existing.Body = body
	existing.UpdatedAt = time.Now().UTC()
	existing.Checksum = checksumBody(body)

	if err := s.write(ctx, existing); err != nil {
		return model.Draft{}, err
	}
	return existing, nil
}

// Get returns a draft, or NotFound if it doesn't exist or has expired
// past its TTL (expiry is checked opportunistically, not swept).
func (s *Store) Get(ctx context.Context, owner, sopID, draftID string) (model.Draft, error) {
	data, _, err := s.backend.Get(ctx, s.bucket, s.key(owner, sopID, draftID))
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.Draft{}, apierr.NotFound(fmt.Sprintf("draft %s", draftID))
		}
		return model.Draft{}, fmt.Errorf("draft store: get: %w", err)
	}

	var d model.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return model.Draft{}, apierr.Wrap(apierr.KindInternal, "malformed draft document", err)
	}
	if time.Since(d.UpdatedAt) > s.ttl {
		return model.Draft{}, apierr.NotFound(fmt.Sprintf("draft %s", draftID))
	}
	return d, nil
}

// List returns owner's non-expired drafts, optionally filtered to one
// SOP. sopID may be "" to search across the owner's drafts for every
// SOP (draft keys are no longer SOP-independent, so this walks the
// owner's prefix one known sopID at a time when sopID is given, or
// falls back to a full drafts/ scan otherwise).
func (s *Store) List(ctx context.Context, owner, sopID string) ([]model.Draft, error) {
	prefix := "drafts/"
	if sopID != "" {
		prefix = fmt.Sprintf("drafts/%s/%s/", sopID, owner)
	}

	var drafts []model.Draft
	cursor := ""
	for {
		entries, next, err := s.backend.List(ctx, s.bucket, prefix, cursor, 100)
		if err != nil {
			return nil, fmt.Errorf("draft store: list: %w", err)
		}
		for _, entry := range entries {
			if sopID == "" && !pathHasOwnerSegment(entry.Key, owner) {
				continue
			}
			data, _, err := s.backend.Get(ctx, s.bucket, entry.Key)
			if err != nil {
				continue
			}
			var d model.Draft
			if err := json.Unmarshal(data, &d); err != nil {
				continue
			}
			if time.Since(d.UpdatedAt) > s.ttl {
				continue
			}
			drafts = append(drafts, d)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return drafts, nil
}

// pathHasOwnerSegment checks whether a drafts/{sop_id}/{owner}/{id}.json
// key's owner segment matches owner, used when scanning across all SOPs.
func pathHasOwnerSegment(key, owner string) bool {
	segments := splitPath(key)
	return len(segments) >= 3 && segments[2] == owner
}

func splitPath(key string) []string {
	var out []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			out = append(out, key[start:i])
			start = i + 1
		}
	}
	out = append(out, key[start:])
	return out
}

// Delete removes a draft. Idempotent.
func (s *Store) Delete(ctx context.Context, owner, sopID, draftID string) error {
	if err := s.backend.Delete(ctx, s.bucket, s.key(owner, sopID, draftID)); err != nil {
		return fmt.Errorf("draft store: delete: %w", err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, d model.Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("draft store: marshaling draft: %w", err)
	}
	if err := s.backend.Put(ctx, s.bucket, s.key(d.Owner, d.SOPID, d.DraftID), data, "application/json"); err != nil {
		return fmt.Errorf("draft store: writing draft: %w", err)
	}
	return nil
}

func checksumBody(body map[string]any) string {
	data, _ := json.Marshal(body)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
