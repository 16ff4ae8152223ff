// Package httpapi exposes the Storage, Draft, File, and Submission
// services over the REST-over-JSON surface, built on chi the way
// stacklok-toolhive's control plane wires its own MCP operator API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pathwaybio/claire-core/internal/auth"
	"github.com/pathwaybio/claire-core/internal/config"
	"github.com/pathwaybio/claire-core/internal/draft"
	"github.com/pathwaybio/claire-core/internal/file"
	"github.com/pathwaybio/claire-core/internal/healthcheck"
	"github.com/pathwaybio/claire-core/internal/metrics"
	"github.com/pathwaybio/claire-core/internal/sop"
	"github.com/pathwaybio/claire-core/internal/submission"
)

// Dependencies bundles every constructed service the HTTP surface calls
// into. Nothing here is a package global; New wires them explicitly.
type Dependencies struct {
	Config      *config.Config
	Auth        auth.Provider
	SOPs        *sop.Registry
	Drafts      *draft.Store
	Files       *file.Service
	Submissions *submission.Store
	Health      *healthcheck.Aggregator
}

// New builds the chi router for the whole HTTP surface.
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	h := &handlers{deps: deps}

	r.Get("/health", h.health)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(authenticate(deps.Auth))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/config/runtime", h.runtimeConfig)
			r.Get("/user-management/groups", h.groups)

			r.Get("/sops", h.listSOPs)
			r.Get("/sops/{sopID}", h.getSOP)

			r.Get("/drafts", h.listDrafts)
			r.Post("/drafts", h.createDraft)
			r.Put("/drafts/{draftID}", h.updateDraft)
			r.Delete("/drafts/{draftID}", h.deleteDraft)

			r.Post("/files", h.uploadFile)
			r.Post("/files/presign", h.presignFile)

			r.Post("/eln", h.submitELN)
			r.Get("/eln", h.listSubmissions)
			// object keys contain slashes ({org}/eln/{sop_id}/{filename}.json), so
			// this is a wildcard route rather than a single path segment.
			r.Get("/eln/*", h.getSubmission)
		})
	})

	return r
}

type handlers struct {
	deps Dependencies
}
