package submission

import (
	"testing"
	"time"

	"github.com/pathwaybio/claire-core/internal/model"
)

func TestNormalizeComponentStripsAndLowercases(t *testing.T) {
	got := normalizeComponent("  Sample ID #42!  ", true)
	if got != "sample_id_42" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeComponentPreservesCaseWhenNotRequested(t *testing.T) {
	got := normalizeComponent("Sample-42", false)
	if got != "Sample-42" {
		t.Fatalf("got %q", got)
	}
}

func TestComposeKeyOrdersComponentsAndAppendsTimestampAndNonce(t *testing.T) {
	sopDoc := model.SOP{
		SOPID: "sop-basic-001",
		FilenameComponents: []model.FilenameComponent{
			{Field: "species", Order: 2, Lowercase: true},
			{Field: "sample_id", Order: 1},
		},
	}
	body := map[string]any{"sample_id": "S000042", "species": "Mouse"}
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	key := composeKey("acme", sopDoc, body, "jdoe", now, "ab12")
	want := "acme/eln/sop-basic-001/jdoe-S000042-mouse-20260305T143000Z-ab12.json"
	if key != want {
		t.Fatalf("got %q, want %q", key, want)
	}
}

func TestComposeKeyWithNoComponentsStillProducesAKey(t *testing.T) {
	sopDoc := model.SOP{SOPID: "sop-1"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := composeKey("acme", sopDoc, map[string]any{}, "jdoe", now, "zz99")
	want := "acme/eln/sop-1/jdoe-20260101T000000Z-zz99.json"
	if key != want {
		t.Fatalf("got %q, want %q", key, want)
	}
}
