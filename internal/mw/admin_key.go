package mw

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey guards the admin surface. With no key configured the
// endpoints do not exist at all.
func RequireAdminKey(adminKey string, next http.Handler) http.Handler {
	if adminKey == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
