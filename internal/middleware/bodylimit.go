package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Webhook payloads are JSON with media passed by reference, so anything
// approaching a megabyte is not a legitimate provider callback.
const DefaultMaxBodySize = 1 << 20

type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength > m.maxSize {
			log.Warn().
				Int64("contentLength", r.ContentLength).
				Str("path", r.URL.Path).
				Str("remoteAddr", r.RemoteAddr).
				Msg("rejecting oversized request body")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "Request body too large",
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
