// Package middleware provides HTTP middleware for the streamgate server.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/streamgate/streamgate/internal/observability"
	"github.com/streamgate/streamgate/internal/porter"
)

// RequestIDHeader is the header the request id is echoed in.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches an id to every request. A porter-stamped id in the
// query string wins, then an inbound header, then a fresh UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get(porter.RequestIDParam)
		if id == "" {
			id = r.Header.Get(RequestIDHeader)
		}
		if id == "" {
			id = uuid.NewString()
		}

		ctx := observability.ContextWithRequestID(r.Context(), id)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
