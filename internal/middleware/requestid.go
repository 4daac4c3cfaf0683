// Package middleware provides HTTP middleware for the codeintel API.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/codeintel/internal/logger"
	"github.com/Strob0t/codeintel/internal/port/messagequeue"
)

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(messagequeue.HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(messagequeue.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
