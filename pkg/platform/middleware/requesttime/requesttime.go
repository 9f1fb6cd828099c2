// Package requesttime pins one "now" per HTTP request so every handler and
// service called from it reads the same timestamp.
package requesttime

import (
	"net/http"
	"time"

	"permwatch/pkg/requestcontext"
)

// Middleware stores the request start time in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
