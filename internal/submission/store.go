// Package submission implements the Submission Store: the seven-step
// finalize pipeline that turns a validated form body into an immutable
// ELN artifact with a provenance-derived object key.
package submission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/draft"
	"github.com/pathwaybio/claire-core/internal/file"
	"github.com/pathwaybio/claire-core/internal/log"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/rbac"
	"github.com/pathwaybio/claire-core/internal/retry"
	"github.com/pathwaybio/claire-core/internal/sop"
	"github.com/pathwaybio/claire-core/internal/storage"
)

const maxKeyCollisionRetries = 5

// Store is the Submission Store.
type Store struct {
	backend storage.Backend
	bucket  string
	org     string
	sops    *sop.Registry
	files   *file.Service
	drafts  *draft.Store
}

// New constructs a Store. org prefixes every object key so submissions
// from different organizations sharing a bucket never collide. drafts
// may be nil when no draft retirement step should run (e.g. tests
// exercising finalize in isolation).
func New(backend storage.Backend, bucket, org string, sops *sop.Registry, files *file.Service, drafts *draft.Store) *Store {
	return &Store{backend: backend, bucket: bucket, org: org, sops: sops, files: files, drafts: drafts}
}

// Request is everything Finalize needs beyond ambient config.
type Request struct {
	Principal      model.Principal
	SOPID          string
	SOPVersion     string
	Body           map[string]any
	DraftID        string
	IdempotencyKey string
}

// Finalize runs the seven-step pipeline: admit, resolve, validate,
// compose key, materialize, bind attachments, retire draft.
func (s *Store) Finalize(ctx context.Context, req Request) (model.Submission, error) {
	logger := log.WithComponent("submission.store")

	if req.IdempotencyKey != "" {
		if existing, ok, err := s.lookupIdempotent(ctx, req.SOPID, req.IdempotencyKey); err != nil {
			return model.Submission{}, err
		} else if ok {
			return existing, nil
		}
	}

	state := StatePendingValidation

	// Step 2: resolve SOP before admission so can_submit can see whether
	// the target version is deprecated.
	sopDoc, err := s.sops.Get(ctx, req.SOPID, req.SOPVersion)
	if err != nil {
		return model.Submission{}, err
	}

	// Step 1: admit.
	if !rbac.CanSubmit(req.Principal, req.SOPID, sopDoc.Status == model.SOPStatusDeprecated) {
		return model.Submission{}, apierr.New(apierr.KindPermissionDenied, "not permitted to submit to this SOP")
	}

	state, err = state.Transition(StateValidating)
	if err != nil {
		return model.Submission{}, apierr.Wrap(apierr.KindInternal, "state machine", err)
	}

	// Step 3: validate body and resolve attachments.
	var attachmentErr error
	resolveAttachment := func(fileID string) (model.File, bool) {
		f, err := s.files.GetByID(ctx, fileID)
		if err != nil {
			attachmentErr = err
			return model.File{}, false
		}
		return f, true
	}
	issues := sop.Validate(sopDoc, req.Body, resolveAttachment)
	if len(issues) > 0 {
		return model.Submission{}, apierr.New(apierr.KindValidationFailed, "submission failed SOP validation").WithDetails(issues)
	}

	attachments, err := collectAttachments(sopDoc, req.Body, resolveAttachment)
	if err != nil {
		return model.Submission{}, err
	}
	if attachmentErr != nil {
		return model.Submission{}, attachmentErr
	}

	state, err = state.Transition(StateWriting)
	if err != nil {
		return model.Submission{}, apierr.Wrap(apierr.KindInternal, "state machine", err)
	}

	// Step 4: compose key, with bounded nonce retry on collision.
	var key string
	var sub model.Submission
	for attempt := 0; attempt < maxKeyCollisionRetries; attempt++ {
		nonce, err := randomNonce()
		if err != nil {
			return model.Submission{}, apierr.Wrap(apierr.KindInternal, "nonce generation", err)
		}
		now := time.Now().UTC()
		key = composeKey(s.org, sopDoc, req.Body, req.Principal.Username, now, nonce)

		if _, err := s.backend.Head(ctx, s.bucket, key); err == nil {
			logger.Warn().Str("key", key).Msg("submission key collision, retrying with new nonce")
			continue
		} else if apierr.KindOf(err) != apierr.KindNotFound {
			return model.Submission{}, fmt.Errorf("submission store: checking key collision: %w", err)
		}

		sub = model.Submission{
			SOPID:        sopDoc.SOPID,
			SOPVersion:   sopDoc.Version,
			SubmissionID: key,
			Submitter:    req.Principal.Username,
			SubmittedAt:  now,
			Body:         req.Body,
			Attachments:  attachments,
			ObjectKey:    key,
			Principal:    req.Principal,
		}
		break
	}
	if key == "" || sub.ObjectKey == "" {
		return model.Submission{}, apierr.New(apierr.KindKeyCollision, "could not allocate a unique submission key")
	}

	// Step 5: materialize the self-describing artifact.
	if err := s.write(ctx, sub); err != nil {
		return model.Submission{}, err
	}

	state, err = state.Transition(StateBound)
	if err != nil {
		return model.Submission{}, apierr.Wrap(apierr.KindInternal, "state machine", err)
	}

	// Step 6: finalize attachments.
	for _, a := range attachments {
		if f, ok := resolveAttachment(a.FileID); ok {
			if err := s.files.Bind(ctx, f.StorageKey); err != nil {
				logger.Error().Err(err).Str("file_id", a.FileID).Msg("failed to bind attachment")
			}
		}
	}

	if _, err := state.Transition(StateComplete); err != nil {
		return model.Submission{}, apierr.Wrap(apierr.KindInternal, "state machine", err)
	}

	// Step 7: retire draft. Failure is logged, not fatal.
	if req.DraftID != "" && s.drafts != nil {
		if err := s.drafts.Delete(ctx, req.Principal.Subject, req.SOPID, req.DraftID); err != nil {
			logger.Warn().Err(err).Str("draft_id", req.DraftID).Msg("failed to retire draft after submission")
		}
	}

	if req.IdempotencyKey != "" {
		if err := s.recordIdempotent(ctx, req.SOPID, req.IdempotencyKey, sub); err != nil {
			logger.Warn().Err(err).Msg("failed to record idempotency key")
		}
	}

	return sub, nil
}

// Get fetches a previously finalized submission by its object key.
func (s *Store) Get(ctx context.Context, objectKey string) (model.Submission, error) {
	data, _, err := s.backend.Get(ctx, s.bucket, objectKey)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.Submission{}, apierr.NotFound("submission")
		}
		return model.Submission{}, fmt.Errorf("submission store: get: %w", err)
	}
	var sub model.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return model.Submission{}, apierr.Wrap(apierr.KindInternal, "malformed submission artifact", err)
	}
	return sub, nil
}

// List returns submissions under a SOP's prefix, newest key order is not
// guaranteed; callers needing order should sort by SubmittedAt.
func (s *Store) List(ctx context.Context, sopID string) ([]model.Submission, error) {
	var out []model.Submission
	cursor := ""
	prefix := fmt.Sprintf("%s/eln/%s/", s.org, sopID)
	for {
		entries, next, err := s.backend.List(ctx, s.bucket, prefix, cursor, 200)
		if err != nil {
			return nil, fmt.Errorf("submission store: list: %w", err)
		}
		for _, entry := range entries {
			sub, err := s.Get(ctx, entry.Key)
			if err != nil {
				continue
			}
			out = append(out, sub)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// write marshals sub twice: once with SHA256 empty to compute the
// artifact's own hash, then again with the field populated, so the
// persisted document is self-describing.
func (s *Store) write(ctx context.Context, sub model.Submission) error {
	sub.SHA256 = ""
	unsigned, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("submission store: marshaling artifact: %w", err)
	}
	sum := sha256.Sum256(unsigned)
	sub.SHA256 = hex.EncodeToString(sum[:])

	signed, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("submission store: marshaling signed artifact: %w", err)
	}

	return retry.Do(ctx, retry.DefaultConfig, func(ctx context.Context) error {
		return s.backend.Put(ctx, s.bucket, sub.ObjectKey, signed, "application/json")
	})
}

func collectAttachments(sopDoc model.SOP, body map[string]any, resolve func(string) (model.File, bool)) ([]model.Attachment, error) {
	var attachments []model.Attachment
	for _, field := range sopDoc.Fields() {
		if field.Type != model.FieldTypeFile {
			continue
		}
		raw, ok := body[field.Path]
		if !ok {
			continue
		}
		fileID, ok := raw.(string)
		if !ok || fileID == "" {
			continue
		}
		f, ok := resolve(fileID)
		if !ok {
			return nil, apierr.New(apierr.KindValidationFailed, fmt.Sprintf("attachment %s could not be resolved", fileID)).
				WithDetails([]apierr.ValidationIssue{{Path: field.Path, Code: "ATTACHMENT_MISSING", Message: "referenced file does not exist"}})
		}
		attachments = append(attachments, model.Attachment{
			FileID:       f.FileID,
			OriginalName: f.OriginalName,
			MediaType:    f.MediaType,
			SizeBytes:    f.SizeBytes,
			SHA256:       f.SHA256,
		})
	}
	return attachments, nil
}

func idempotencyKey(sopID, key string) string {
	return fmt.Sprintf("idempotency/%s/%s.json", sopID, key)
}

func (s *Store) lookupIdempotent(ctx context.Context, sopID, key string) (model.Submission, bool, error) {
	data, _, err := s.backend.Get(ctx, s.bucket, idempotencyKey(sopID, key))
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.Submission{}, false, nil
		}
		return model.Submission{}, false, fmt.Errorf("submission store: idempotency lookup: %w", err)
	}
	var objectKey string
	if err := json.Unmarshal(data, &objectKey); err != nil {
		return model.Submission{}, false, nil
	}
	sub, err := s.Get(ctx, objectKey)
	if err != nil {
		return model.Submission{}, false, nil
	}
	return sub, true, nil
}

func (s *Store) recordIdempotent(ctx context.Context, sopID, key string, sub model.Submission) error {
	data, err := json.Marshal(sub.ObjectKey)
	if err != nil {
		return fmt.Errorf("submission store: marshaling idempotency record: %w", err)
	}
	return s.backend.Put(ctx, s.bucket, idempotencyKey(sopID, key), data, "application/json")
}
