package submission

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pathwaybio/claire-core/internal/model"
)

var disallowedKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// normalizeComponent applies the filename-component normalization rule:
// trim surrounding whitespace, lowercase when the component requests it,
// replace internal whitespace with underscores, then strip anything
// outside [A-Za-z0-9._-].
func normalizeComponent(value string, lowercase bool) string {
	v := strings.TrimSpace(value)
	if lowercase {
		v = strings.ToLower(v)
	}
	v = strings.Join(strings.Fields(v), "_")
	return disallowedKeyChars.ReplaceAllString(v, "")
}

// componentValue stringifies a body value for key composition.
func componentValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%t", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// composeKey derives a submission's object key from the organization, the
// SOP's declared filename components, the submitter's username, a UTC
// timestamp, and a random nonce. Final shape:
// {org}/eln/{sop_id}/{submitter}-{component1}-…-{timestamp}-{nonce}.json
func composeKey(org string, sop model.SOP, body map[string]any, submitter string, now time.Time, nonce string) string {
	components := append([]model.FilenameComponent(nil), sop.FilenameComponents...)
	sortComponentsByOrder(components)

	parts := []string{normalizeComponent(submitter, false)}
	for _, c := range components {
		raw := componentValue(body[c.Field])
		parts = append(parts, normalizeComponent(raw, c.Lowercase))
	}
	parts = append(parts, now.UTC().Format("20060102T150405Z"), nonce)

	return fmt.Sprintf("%s/eln/%s/%s.json", org, sop.SOPID, strings.Join(parts, "-"))
}

func sortComponentsByOrder(components []model.FilenameComponent) {
	for i := 1; i < len(components); i++ {
		for j := i; j > 0 && components[j].Order < components[j-1].Order; j-- {
			components[j], components[j-1] = components[j-1], components[j]
		}
	}
}

// randomNonce returns a short random hex string used to disambiguate
// colliding keys.
func randomNonce() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("submission: generating nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
