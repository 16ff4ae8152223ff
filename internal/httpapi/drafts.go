package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/model"
	"github.com/pathwaybio/claire-core/internal/rbac"
)

func (h *handlers) listDrafts(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	sopID := r.URL.Query().Get("sop_id")

	drafts, err := h.deps.Drafts.List(r.Context(), principal.Subject, sopID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

type createDraftRequest struct {
	SOPID      string         `json:"sop_id"`
	SOPVersion string         `json:"sop_version"`
	Body       map[string]any `json:"body"`
}

func (h *handlers) createDraft(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindValidationFailed, "malformed request body"))
		return
	}

	if !rbac.CanManageDrafts(principal, rbac.DraftActionCreate, model.Draft{Owner: principal.Subject}) {
		writeError(w, apierr.New(apierr.KindPermissionDenied, "not permitted to create drafts"))
		return
	}

	d, err := h.deps.Drafts.Create(r.Context(), principal.Subject, req.SOPID, req.SOPVersion, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draft_id":   d.DraftID,
		"updated_at": d.UpdatedAt,
	})
}

type updateDraftRequest struct {
	Body map[string]any `json:"body"`
}

// findDraft locates a caller's draft by id alone, since the wire API
// does not carry sop_id on PUT/DELETE. Draft keys are sop-scoped, so
// this walks the owner's drafts once to resolve the owning sop_id.
func (h *handlers) findDraft(r *http.Request, owner, draftID string) (model.Draft, error) {
	drafts, err := h.deps.Drafts.List(r.Context(), owner, "")
	if err != nil {
		return model.Draft{}, err
	}
	for _, d := range drafts {
		if d.DraftID == draftID {
			return d, nil
		}
	}
	return model.Draft{}, apierr.NotFound("draft " + draftID)
}

func (h *handlers) updateDraft(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	draftID := chi.URLParam(r, "draftID")

	existing, err := h.findDraft(r, principal.Subject, draftID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rbac.CanManageDrafts(principal, rbac.DraftActionUpdate, existing) {
		writeError(w, apierr.New(apierr.KindPermissionDenied, "not permitted to update this draft"))
		return
	}

	var req updateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindValidationFailed, "malformed request body"))
		return
	}

	d, err := h.deps.Drafts.Update(r.Context(), existing.Owner, existing.SOPID, draftID, req.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated_at": d.UpdatedAt,
		"checksum":   d.Checksum,
	})
}

func (h *handlers) deleteDraft(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	draftID := chi.URLParam(r, "draftID")

	existing, err := h.findDraft(r, principal.Subject, draftID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rbac.CanManageDrafts(principal, rbac.DraftActionDelete, existing) {
		writeError(w, apierr.New(apierr.KindPermissionDenied, "not permitted to delete this draft"))
		return
	}

	if err := h.deps.Drafts.Delete(r.Context(), existing.Owner, existing.SOPID, draftID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
