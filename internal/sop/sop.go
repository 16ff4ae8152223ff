// Package sop loads, caches, and validates SOP documents. Documents
// live in the Storage Backend's forms bucket as YAML; the registry is
// a read-mostly cache in front of them keyed by (sop_id, version).
package sop

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/storage"
)

const defaultTTL = 60 * time.Second

type cacheKey struct {
	sopID   string
	version string
}

type cacheEntry struct {
	sop       model.SOP
	expiresAt time.Time
}

// Registry is the SOP schema registry: load, cache, list, validate.
type Registry struct {
	backend storage.Backend
	bucket  string
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
	// latest maps sop_id to the most recently loaded published version,
	// used to resolve Get(sop_id, "") lookups.
	latest map[string]string
}

// New constructs a Registry reading SOP documents from bucket.
func New(backend storage.Backend, bucket string) *Registry {
	return &Registry{
		backend: backend,
		bucket:  bucket,
		ttl:     defaultTTL,
		cache:   make(map[cacheKey]cacheEntry),
		latest:  make(map[string]string),
	}
}

// Get returns the SOP for (sopID, version). When version is empty, the
// latest cached published version is used; if nothing is cached for
// sopID yet, the unversioned document path is tried.
func (r *Registry) Get(ctx context.Context, sopID, version string) (model.SOP, error) {
	if version == "" {
		version = r.resolveLatest(sopID)
	}

	key := cacheKey{sopID: sopID, version: version}
	if s, ok := r.fromCache(key); ok {
		return s, nil
	}

	s, err := r.load(ctx, sopID, version)
	if err != nil {
		return model.SOP{}, err
	}

	r.store(key, s)
	if key.version == "" && s.Version != "" {
		r.store(cacheKey{sopID: sopID, version: s.Version}, s)
	}
	return s, nil
}

func (r *Registry) resolveLatest(sopID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest[sopID]
}

func (r *Registry) fromCache(key cacheKey) (model.SOP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return model.SOP{}, false
	}
	return entry.sop, true
}

// store is a CAS-style replace: the new entry fully replaces whatever
// was cached for key, so readers never observe a half-updated document.
func (r *Registry) store(key cacheKey, s model.SOP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{sop: s, expiresAt: time.Now().Add(r.ttl)}
	if s.Status == model.SOPStatusPublished {
		if r.latest[key.sopID] == "" || s.Version > r.latest[key.sopID] {
			r.latest[key.sopID] = s.Version
		}
	}
}

func (r *Registry) load(ctx context.Context, sopID, version string) (model.SOP, error) {
	key := fmt.Sprintf("sops/%s.yaml", sopID)
	if version != "" {
		key = fmt.Sprintf("sops/%s/%s.yaml", sopID, version)
	}

	data, _, err := r.backend.Get(ctx, r.bucket, key)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return model.SOP{}, apierr.NotFound(fmt.Sprintf("sop %s version %s", sopID, version))
		}
		return model.SOP{}, fmt.Errorf("sop registry: loading %s: %w", key, err)
	}

	var s model.SOP
	if err := yaml.Unmarshal(data, &s); err != nil {
		return model.SOP{}, apierr.Wrap(apierr.KindInternal, fmt.Sprintf("malformed sop document %s", key), err)
	}
	return s, nil
}

// List returns summaries of every SOP under the forms bucket's sops/
// prefix matching filter (a status, or empty for all).
func (r *Registry) List(ctx context.Context, statusFilter string) ([]model.Summary, error) {
	var summaries []model.Summary
	cursor := ""
	for {
		entries, next, err := r.backend.List(ctx, r.bucket, "sops/", cursor, 100)
		if err != nil {
			return nil, fmt.Errorf("sop registry: listing: %w", err)
		}
		for _, entry := range entries {
			if !strings.HasSuffix(entry.Key, ".yaml") {
				continue
			}
			data, _, err := r.backend.Get(ctx, r.bucket, entry.Key)
			if err != nil {
				continue
			}
			var s model.SOP
			if err := yaml.Unmarshal(data, &s); err != nil {
				continue
			}
			if statusFilter != "" && string(s.Status) != statusFilter {
				continue
			}
			summaries = append(summaries, s.ToSummary())
		}
		if next == "" {
			break
		}
		cursor = next
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].SOPID < summaries[j].SOPID })
	return summaries, nil
}

// Bust evicts every cached entry for sopID, forcing the next Get to
// reload from storage. Administrative write-through endpoints call
// this after publishing a new version.
func (r *Registry) Bust(sopID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.sopID == sopID {
			delete(r.cache, key)
		}
	}
	delete(r.latest, sopID)
}

// Validate walks sop's fields against body, producing every issue
// found (not just the first), per spec.md §4.5's validation code set.
func Validate(s model.SOP, body map[string]any, resolveAttachment func(fileID string) (model.File, bool)) []apierr.ValidationIssue {
	var issues []apierr.ValidationIssue

	for _, field := range s.Fields() {
		issues = append(issues, validateField(field, body)...)
	}

	for _, rule := range s.CrossFieldRules {
		if !evaluateCrossFieldRule(rule, body) {
			issues = append(issues, apierr.ValidationIssue{
				Path:    strings.Join(rule.Fields, ","),
				Code:    "CROSS_FIELD_FAILED",
				Message: rule.Message,
			})
		}
	}

	for _, field := range s.Fields() {
		if field.Type != model.FieldTypeFile {
			continue
		}
		v, present := body[field.Path]
		if !present {
			continue
		}
		fileID, ok := v.(string)
		if !ok {
			continue
		}
		file, found := resolveAttachment(fileID)
		if !found {
			issues = append(issues, apierr.ValidationIssue{Path: field.Path, Code: "ATTACHMENT_MISSING", Message: "referenced attachment not found"})
			continue
		}
		if len(field.AllowedMedia) > 0 && !contains(field.AllowedMedia, file.MediaType) {
			issues = append(issues, apierr.ValidationIssue{Path: field.Path, Code: "ATTACHMENT_TYPE_REJECTED", Message: fmt.Sprintf("media type %s not allowed", file.MediaType)})
		}
		if field.MaxSizeBytes > 0 && file.SizeBytes > field.MaxSizeBytes {
			issues = append(issues, apierr.ValidationIssue{Path: field.Path, Code: "ATTACHMENT_TOO_LARGE", Message: "attachment exceeds the field's size limit"})
		}
	}

	return issues
}

func validateField(field model.Field, body map[string]any) []apierr.ValidationIssue {
	if field.Type == model.FieldTypeFile {
		return nil
	}

	v, present := body[field.Path]
	if !present || v == nil {
		if field.Required {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "REQUIRED_MISSING", Message: fmt.Sprintf("%s is required", field.Path)}}
		}
		return nil
	}

	switch field.Type {
	case model.FieldTypeString, model.FieldTypeDate:
		s, ok := v.(string)
		if !ok {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "TYPE_MISMATCH", Message: fmt.Sprintf("%s must be a string", field.Path)}}
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err == nil && !re.MatchString(s) {
				return []apierr.ValidationIssue{{Path: field.Path, Code: "PATTERN_MISMATCH", Message: fmt.Sprintf("%s does not match required pattern", field.Path)}}
			}
		}
	case model.FieldTypeNumber, model.FieldTypeInteger:
		n, ok := asFloat(v)
		if !ok {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "TYPE_MISMATCH", Message: fmt.Sprintf("%s must be a number", field.Path)}}
		}
		if field.Min != nil && n < *field.Min {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "OUT_OF_RANGE", Message: fmt.Sprintf("%s below minimum", field.Path)}}
		}
		if field.Max != nil && n > *field.Max {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "OUT_OF_RANGE", Message: fmt.Sprintf("%s above maximum", field.Path)}}
		}
	case model.FieldTypeBoolean:
		if _, ok := v.(bool); !ok {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "TYPE_MISMATCH", Message: fmt.Sprintf("%s must be a boolean", field.Path)}}
		}
	case model.FieldTypeEnum:
		s, ok := v.(string)
		if !ok || !contains(field.Enum, s) {
			return []apierr.ValidationIssue{{Path: field.Path, Code: "ENUM_INVALID", Message: fmt.Sprintf("%s is not one of the allowed values", field.Path)}}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// evaluateCrossFieldRule interprets the small comparison grammar the
// registry owns: "fieldA == fieldB", "fieldA != fieldB", or a single
// field name asserting truthiness/presence.
func evaluateCrossFieldRule(rule model.CrossFieldRule, body map[string]any) bool {
	expr := strings.TrimSpace(rule.Rule)
	for _, op := range []string{"!=", "=="} {
		if idx := strings.Index(expr, op); idx >= 0 {
			left := strings.TrimSpace(expr[:idx])
			right := strings.TrimSpace(expr[idx+len(op):])
			lv := lookupOrLiteral(body, left)
			rv := lookupOrLiteral(body, right)
			equal := fmt.Sprintf("%v", lv) == fmt.Sprintf("%v", rv)
			if op == "==" {
				return equal
			}
			return !equal
		}
	}
	v, ok := body[expr]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	default:
		return v != nil
	}
}

func lookupOrLiteral(body map[string]any, token string) any {
	if v, ok := body[token]; ok {
		return v
	}
	return strings.Trim(token, `"'`)
}
