package httpapi

import "net/http"

// runtimeConfig exposes the non-secret subset of the frozen config
// document: deployment tier, storage backend kind, and upload limits.
// auth.secret and any credentials never leave internal/config.
func (h *handlers) runtimeConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Config

	writeJSON(w, http.StatusOK, map[string]any{
		"environment":           cfg.Environment,
		"organization":          cfg.Organization,
		"storage_backend":       cfg.Storage.Backend,
		"max_size_bytes":        cfg.Files.MaxSizeBytes,
		"max_size_bytes_inline": cfg.Files.MaxSizeBytesInline,
		"allowed_media_types":   cfg.Files.AllowedMediaTypes,
		"draft_ttl_seconds":     cfg.Drafts.TTLSeconds,
		"draft_max_per_user":    cfg.Drafts.MaxPerUser,
	})
}

func (h *handlers) groups(w http.ResponseWriter, r *http.Request) {
	groups := make(map[string]any, len(h.deps.Config.Auth.Groups))
	for name, g := range h.deps.Config.Auth.Groups {
		groups[name] = map[string]any{
			"description": g.Description,
			"permissions": g.Permissions,
		}
	}
	writeJSON(w, http.StatusOK, groups)
}
