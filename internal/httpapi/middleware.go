package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/auth"
	"github.com/pathwaybio/claire-core/internal/log"
	"github.com/pathwaybio/claire-core/internal/model"
)

type contextKey string

const principalContextKey contextKey = "principal"

// requestLogger echoes the chi-assigned request ID in the X-Request-Id
// response header and logs one line per request with it, mirroring the
// teacher's component-scoped child logger pattern.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		logger := log.WithRequestID(requestID)
		w.Header().Set("X-Request-Id", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// authenticate validates the bearer token and stashes the resolved
// Principal in the request context. GET /health is mounted outside this
// middleware's chain.
func authenticate(provider auth.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, apierr.New(apierr.KindAuthInvalid, "missing bearer token"))
				return
			}

			principal, err := provider.Verify(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func principalFrom(r *http.Request) model.Principal {
	p, _ := r.Context().Value(principalContextKey).(model.Principal)
	return p
}
