package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *handlers) listSOPs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	summaries, err := h.deps.SOPs.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *handlers) getSOP(w http.ResponseWriter, r *http.Request) {
	sopID := chi.URLParam(r, "sopID")
	version := r.URL.Query().Get("version")

	doc, err := h.deps.SOPs.Get(r.Context(), sopID, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
