package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pathwaybio/claire-core/internal/auth/selfhosted"
	"github.com/pathwaybio/claire-core/internal/config"
	"github.com/pathwaybio/claire-core/internal/draft"
	"github.com/pathwaybio/claire-core/internal/file"
	"github.com/pathwaybio/claire-core/internal/healthcheck"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/sop"
	"github.com/pathwaybio/claire-core/internal/storage/local"
	"github.com/pathwaybio/claire-core/internal/submission"
)

const testSecret = "test-signing-secret-not-for-production"

// testClaims mirrors selfhosted's private claims shape closely enough
// for ParseWithClaims to decode a token minted here.
type testClaims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
	Admin    bool     `json:"admin,omitempty"`
}

func mintToken(t *testing.T, subject string, groups []string, admin bool) string {
	t.Helper()
	now := time.Now()
	claims := testClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "claire-core-test",
			Audience:  jwt.ClaimStrings{"claire-core"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: subject,
		Groups:   groups,
		Admin:    admin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func basicSOPYAML() model.SOP {
	published := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.SOP{
		SOPID:       "sop-basic-001",
		Version:     "1",
		Title:       "Basic Sample Intake",
		Status:      model.SOPStatusPublished,
		PublishedAt: &published,
		TaskGroups: []model.TaskGroup{
			{
				Name: "intake",
				Tasks: []model.Task{
					{
						Name: "sample",
						Fields: []model.Field{
							{Path: "sample_id", Type: model.FieldTypeString, Required: true, Pattern: `^S\d{6}$`},
							{Path: "species", Type: model.FieldTypeEnum, Required: true, Enum: []string{"mouse", "rat"}},
						},
					},
				},
			},
		},
		FilenameComponents: []model.FilenameComponent{
			{Field: "sample_id", Order: 1},
		},
	}
}

type testHarness struct {
	router http.Handler
	cfg    *config.Config
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()
	root := t.TempDir()
	backend, err := local.New(root, nil)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment:  config.EnvTest,
		Organization: "acme",
	}
	cfg.Storage.Backend = config.StorageBackendLocal
	cfg.Storage.Buckets.Forms = "forms"
	cfg.Storage.Buckets.Drafts = "drafts"
	cfg.Storage.Buckets.ELN = "eln"
	cfg.Files.MaxSizeBytes = 5 * 1024 * 1024 * 1024
	cfg.Files.MaxSizeBytesInline = 6 * 1024 * 1024
	cfg.Files.AllowedMediaTypes = []string{"application/pdf", "image/png", "image/jpeg", "text/csv", "text/plain"}
	cfg.Drafts.TTLSeconds = int64((7 * 24 * time.Hour).Seconds())
	cfg.Drafts.MaxPerUser = 25
	cfg.Auth.Groups = map[string]config.GroupPermissions{
		"RESEARCHERS": {Description: "bench researchers", Permissions: []string{"submit:SOP*", "view:own"}},
		"ADMINS":      {Description: "administrators", Permissions: []string{"*"}},
	}

	provider, err := selfhosted.New(selfhosted.Config{
		Secret:      testSecret,
		Algorithm:   "HS256",
		Issuer:      "claire-core-test",
		Audience:    "claire-core",
		Environment: "test",
		Groups: map[string][]string{
			"RESEARCHERS": {"submit:SOP*", "view:own"},
			"ADMINS":      {"*"},
		},
	})
	require.NoError(t, err)

	sopDoc := basicSOPYAML()
	data, err := yaml.Marshal(sopDoc)
	require.NoError(t, err)
	require.NoError(t, backend.Put(context.Background(), cfg.Storage.Buckets.Forms, "sops/sop-basic-001.yaml", data, "application/yaml"))

	sopRegistry := sop.New(backend, cfg.Storage.Buckets.Forms)
	drafts := draft.New(backend, cfg.Storage.Buckets.Drafts, draft.Config{TTL: 7 * 24 * time.Hour, MaxPerUser: 25})
	files := file.New(backend, cfg.Storage.Buckets.ELN, file.Config{
		MaxSizeBytes:       cfg.Files.MaxSizeBytes,
		MaxSizeBytesInline: cfg.Files.MaxSizeBytesInline,
		AllowedMediaTypes:  cfg.Files.AllowedMediaTypes,
	})
	submissions := submission.New(backend, cfg.Storage.Buckets.ELN, cfg.Organization, sopRegistry, files, drafts)
	health := healthcheck.New(healthcheck.NewPingChecker("storage", func(ctx context.Context) error { return nil }))

	router := New(Dependencies{
		Config:      cfg,
		Auth:        provider,
		SOPs:        sopRegistry,
		Drafts:      drafts,
		Files:       files,
		Submissions: submissions,
		Health:      health,
	})

	return testHarness{router: router, cfg: cfg}
}

func (h testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHealthRequiresNoToken(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitELNHappyPathProducesObjectKey(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-alice", []string{"RESEARCHERS"}, false)

	rec := h.do(t, http.MethodPost, "/api/v1/eln", token, map[string]any{
		"sop_id":      "sop-basic-001",
		"sop_version": "1",
		"body": map[string]any{
			"sample_id": "S000042",
			"species":   "mouse",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.True(t, env.OK)
	data := env.Data.(map[string]any)
	objectKey := data["object_key"].(string)
	require.True(t, strings.HasPrefix(objectKey, "acme/eln/sop-basic-001/u-alice-S000042-"))
}

func TestSubmitELNValidationFailureReturns400WithDetails(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-alice", []string{"RESEARCHERS"}, false)

	rec := h.do(t, http.MethodPost, "/api/v1/eln", token, map[string]any{
		"sop_id":      "sop-basic-001",
		"sop_version": "1",
		"body": map[string]any{
			"sample_id": "not-a-valid-id",
			"species":   "dog",
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decodeEnvelope(t, rec)
	require.False(t, env.OK)
	require.NotEmpty(t, env.Error.Details)
}

func TestSubmitELNDeniesWithoutPermission(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-bob", []string{"OBSERVERS"}, false)

	rec := h.do(t, http.MethodPost, "/api/v1/eln", token, map[string]any{
		"sop_id":      "sop-basic-001",
		"sop_version": "1",
		"body": map[string]any{
			"sample_id": "S000042",
			"species":   "mouse",
		},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitELNWithoutBearerTokenReturns401(t *testing.T) {
	h := newTestHarness(t)
	rec := h.do(t, http.MethodPost, "/api/v1/eln", "", map[string]any{"sop_id": "sop-basic-001"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitELNIsIdempotentOnRetry(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-alice", []string{"RESEARCHERS"}, false)

	body := map[string]any{
		"sop_id":          "sop-basic-001",
		"sop_version":     "1",
		"idempotency_key": "k-shared",
		"body": map[string]any{
			"sample_id": "S000099",
			"species":   "rat",
		},
	}

	first := h.do(t, http.MethodPost, "/api/v1/eln", token, body)
	require.Equal(t, http.StatusOK, first.Code)
	second := h.do(t, http.MethodPost, "/api/v1/eln", token, body)
	require.Equal(t, http.StatusOK, second.Code)

	firstEnv := decodeEnvelope(t, first)
	secondEnv := decodeEnvelope(t, second)
	require.Equal(t,
		firstEnv.Data.(map[string]any)["object_key"],
		secondEnv.Data.(map[string]any)["object_key"],
	)
}

func TestDraftLifecycle(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-carol", []string{"RESEARCHERS"}, false)

	createRec := h.do(t, http.MethodPost, "/api/v1/drafts", token, map[string]any{
		"sop_id":      "sop-basic-001",
		"sop_version": "1",
		"body":        map[string]any{"sample_id": "S000001"},
	})
	require.Equal(t, http.StatusOK, createRec.Code)
	createEnv := decodeEnvelope(t, createRec)
	draftID := createEnv.Data.(map[string]any)["draft_id"].(string)

	updateRec := h.do(t, http.MethodPut, fmt.Sprintf("/api/v1/drafts/%s", draftID), token, map[string]any{
		"body": map[string]any{"sample_id": "S000002"},
	})
	require.Equal(t, http.StatusOK, updateRec.Code)

	deleteRec := h.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/drafts/%s", draftID), token, nil)
	require.Equal(t, http.StatusOK, deleteRec.Code)
	deleteEnv := decodeEnvelope(t, deleteRec)
	require.Equal(t, true, deleteEnv.Data.(map[string]any)["deleted"])
}

func TestFileUploadInlineRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-dave", []string{"RESEARCHERS"}, false)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("sop_id", "sop-basic-001"))
	require.NoError(t, writer.WriteField("media_type", "text/plain"))
	part, err := writer.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("lab notes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotEmpty(t, env.Data.(map[string]any)["file_id"])
}

func TestListSOPsReturnsPublishedSummary(t *testing.T) {
	h := newTestHarness(t)
	token := mintToken(t, "u-eve", []string{"RESEARCHERS"}, false)

	rec := h.do(t, http.MethodGet, "/api/v1/sops", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	summaries := env.Data.([]any)
	require.Len(t, summaries, 1)
}
