package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/metrics"
)

const presignTTL = 15 * time.Minute

// uploadFile handles the multipart inline upload path. The sop_id and
// declared media type travel as form fields alongside the file part.
func (h *handlers) uploadFile(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	if err := r.ParseMultipartForm(h.deps.Config.Files.MaxSizeBytesInline); err != nil {
		writeError(w, apierr.New(apierr.KindValidationFailed, "malformed multipart body"))
		return
	}

	sopID := r.FormValue("sop_id")
	mediaType := r.FormValue("media_type")

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apierr.New(apierr.KindValidationFailed, "missing file part"))
		return
	}
	defer part.Close()

	f, err := h.deps.Files.UploadInline(r.Context(), principal.Subject, sopID, header.Filename, mediaType, part)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.FilesUploadedTotal.WithLabelValues("inline").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":    f.FileID,
		"sha256":     f.SHA256,
		"size":       f.SizeBytes,
		"media_type": f.MediaType,
	})
}

type presignRequest struct {
	SOPID     string `json:"sop_id"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

func (h *handlers) presignFile(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.KindValidationFailed, "malformed request body"))
		return
	}
	if req.Size > h.deps.Config.Files.MaxSizeBytes {
		writeError(w, apierr.New(apierr.KindFileTooLarge, "declared size exceeds the configured maximum"))
		return
	}

	fileID, uploadURL, err := h.deps.Files.ReservePresigned(r.Context(), principal.Subject, req.SOPID, req.MediaType, presignTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	metrics.FilesUploadedTotal.WithLabelValues("presigned").Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"url":        uploadURL,
		"file_id":    fileID,
		"expires_at": time.Now().Add(presignTTL),
	})
}
