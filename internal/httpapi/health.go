package httpapi

import "net/http"

const serviceName = "claire-core"

// version is set at build time via -ldflags; left as a default for
// local builds.
var version = "dev"

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	healthy, results := h.deps.Health.Check(r.Context())

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"service": serviceName,
		"version": version,
		"checks":  results,
	})
}
