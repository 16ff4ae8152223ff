package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/pathwaybio/claire-core/internal/apierr"
)

// envelope is the uniform response shape: {ok:true,data:...} on success,
// {ok:false,error:{code,message,details?}} on failure.
type envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string                   `json:"code"`
	Message string                   `json:"message"`
	Details []apierr.ValidationIssue `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := statusForKind(kind)

	var details []apierr.ValidationIssue
	var apiErr *apierr.Error
	if e, ok := err.(*apierr.Error); ok {
		apiErr = e
		details = e.Details
	}

	message := err.Error()
	if apiErr != nil {
		message = apiErr.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK: false,
		Error: &envelopeError{
			Code:    string(kind),
			Message: message,
			Details: details,
		},
	})
}

// statusForKind maps an apierr.Kind to the HTTP status spec.md §7 names.
func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindAuthInvalid, apierr.KindAuthExpired:
		return http.StatusUnauthorized
	case apierr.KindPermissionDenied:
		return http.StatusForbidden
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindValidationFailed:
		return http.StatusBadRequest
	case apierr.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case apierr.KindMediaTypeRejected:
		return http.StatusUnsupportedMediaType
	case apierr.KindChecksumMismatch, apierr.KindUploadIncomplete, apierr.KindKeyCollision:
		return http.StatusConflict
	case apierr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
