package sop

import (
	"context"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/storage/local"
)

func seedSOP(t *testing.T, backend *local.Backend, bucket string, s model.SOP) {
	t.Helper()
	data, err := yaml.Marshal(s)
	if err != nil {
		t.Fatalf("marshal sop: %v", err)
	}
	key := "sops/" + s.SOPID + ".yaml"
	if err := backend.Put(context.Background(), bucket, key, data, "application/yaml"); err != nil {
		t.Fatalf("seed sop: %v", err)
	}
}

func basicSOP() model.SOP {
	return model.SOP{
		SOPID:   "sop-basic-001",
		Version: "1.0.0",
		Title:   "Basic sample intake",
		Status:  model.SOPStatusPublished,
		TaskGroups: []model.TaskGroup{
			{
				Name: "Intake",
				Tasks: []model.Task{
					{
						Name: "Sample",
						Fields: []model.Field{
							{Path: "sample_id", Type: model.FieldTypeString, Required: true, Pattern: `^S[0-9]{6}$`},
							{Path: "temperature_c", Type: model.FieldTypeNumber, Required: true, Min: ptrFloat(0), Max: ptrFloat(100)},
						},
					},
				},
			},
		},
	}
}

func ptrFloat(f float64) *float64 { return &f }

func TestGetLoadsAndCachesSOP(t *testing.T) {
	backend, err := local.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	seedSOP(t, backend, "forms", basicSOP())

	reg := New(backend, "forms")
	s, err := reg.Get(context.Background(), "sop-basic-001", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.SOPID != "sop-basic-001" || s.Version != "1.0.0" {
		t.Fatalf("unexpected sop loaded: %+v", s)
	}

	// Cached entry should be returned without touching storage again;
	// deleting the underlying object shouldn't matter inside the TTL.
	if err := backend.Delete(context.Background(), "forms", "sops/sop-basic-001.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(context.Background(), "sop-basic-001", "1.0.0"); err != nil {
		t.Fatalf("expected cached Get to succeed, got %v", err)
	}
}

func TestGetUnknownVersionReturnsNotFound(t *testing.T) {
	backend, err := local.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	seedSOP(t, backend, "forms", basicSOP())

	reg := New(backend, "forms")
	_, err = reg.Get(context.Background(), "sop-basic-001", "9.9.9")
	if apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("kind = %v, want NotFound", apierr.KindOf(err))
	}
}

func TestBustForcesReload(t *testing.T) {
	backend, err := local.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	seedSOP(t, backend, "forms", basicSOP())

	reg := New(backend, "forms")
	if _, err := reg.Get(context.Background(), "sop-basic-001", ""); err != nil {
		t.Fatalf("Get: %v", err)
	}

	reg.Bust("sop-basic-001")
	if err := backend.Delete(context.Background(), "forms", "sops/sop-basic-001.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := reg.Get(context.Background(), "sop-basic-001", ""); apierr.KindOf(err) != apierr.KindNotFound {
		t.Fatalf("expected bust to force reload and surface NotFound, got %v", err)
	}
}

func TestValidateScenarioA(t *testing.T) {
	s := basicSOP()
	body := map[string]any{"sample_id": "S000042", "temperature_c": 37.0}
	issues := Validate(s, body, noAttachments)
	if len(issues) != 0 {
		t.Fatalf("expected no validation issues, got %+v", issues)
	}
}

func TestValidateScenarioB(t *testing.T) {
	s := basicSOP()
	body := map[string]any{"sample_id": "bad", "temperature_c": 150.0}
	issues := Validate(s, body, noAttachments)

	codes := map[string]bool{}
	for _, issue := range issues {
		codes[issue.Path+":"+issue.Code] = true
	}
	if !codes["sample_id:PATTERN_MISMATCH"] {
		t.Errorf("expected sample_id PATTERN_MISMATCH, got %+v", issues)
	}
	if !codes["temperature_c:OUT_OF_RANGE"] {
		t.Errorf("expected temperature_c OUT_OF_RANGE, got %+v", issues)
	}
}

func TestValidateRequiredMissing(t *testing.T) {
	s := basicSOP()
	issues := Validate(s, map[string]any{}, noAttachments)
	if len(issues) != 2 {
		t.Fatalf("expected 2 missing-field issues, got %+v", issues)
	}
}

func noAttachments(string) (model.File, bool) { return model.File{}, false }
