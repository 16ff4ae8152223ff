package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/metrics"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/rbac"
	"github.com/pathwaybio/claire-core/internal/submission"
)

const submissionPageSize = 50

type submitELNRequest struct {
	SOPID          string         `json:"sop_id"`
	SOPVersion     string         `json:"sop_version"`
	Body           map[string]any `json:"body"`
	DraftID        string         `json:"draft_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (h *handlers) submitELN(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	var req submitELNRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindValidationFailed, "malformed request body"))
		return
	}

	start := time.Now()
	sub, err := h.deps.Submissions.Finalize(r.Context(), submission.Request{
		Principal:      principal,
		SOPID:          req.SOPID,
		SOPVersion:     req.SOPVersion,
		Body:           req.Body,
		DraftID:        req.DraftID,
		IdempotencyKey: req.IdempotencyKey,
	})
	metrics.SubmissionDuration.WithLabelValues(req.SOPID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues(req.SOPID, "rejected").Inc()
		writeError(w, err)
		return
	}
	metrics.SubmissionsTotal.WithLabelValues(req.SOPID, "accepted").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"submission_id": sub.SubmissionID,
		"object_key":    sub.ObjectKey,
		"submitted_at":  sub.SubmittedAt,
	})
}

func (h *handlers) listSubmissions(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	q := r.URL.Query()
	sopID := q.Get("sop_id")
	submitter := q.Get("submitter")
	cursor := q.Get("cursor")

	var since time.Time
	if raw := q.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, apierr.New(apierr.KindValidationFailed, "since must be RFC3339"))
			return
		}
		since = parsed
	}

	subs, err := h.deps.Submissions.List(r.Context(), sopID)
	if err != nil {
		writeError(w, err)
		return
	}

	filtered := make([]model.Submission, 0, len(subs))
	for _, s := range subs {
		if submitter != "" && s.Submitter != submitter {
			continue
		}
		if !since.IsZero() && s.SubmittedAt.Before(since) {
			continue
		}
		filtered = append(filtered, s)
	}
	filtered = rbac.FilterViewable(principal, filtered)

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ObjectKey < filtered[j].ObjectKey })

	page, nextCursor := paginate(filtered, cursor, submissionPageSize)
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": page,
		"cursor":      nextCursor,
	})
}

// paginate returns the page of items starting just past cursor (an
// ObjectKey boundary), and the cursor to pass for the next page.
func paginate(items []model.Submission, cursor string, pageSize int) ([]model.Submission, string) {
	start := 0
	if cursor != "" {
		for i, s := range items {
			if s.ObjectKey > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(items) {
		return nil, ""
	}
	end := start + pageSize
	if end >= len(items) {
		return items[start:], ""
	}
	return items[start:end], items[end-1].ObjectKey
}

func (h *handlers) getSubmission(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	objectKey := chi.URLParam(r, "*")

	sub, err := h.deps.Submissions.Get(r.Context(), objectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rbac.CanView(principal, sub) {
		writeError(w, apierr.New(apierr.KindPermissionDenied, "not permitted to view this submission"))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
