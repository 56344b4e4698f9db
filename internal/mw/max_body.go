package mw

import (
	"encoding/json"
	"net/http"
)

// MaxBodyBytes caps inbound request bodies. Known oversize lengths are
// rejected before any upstream work; chunked bodies are cut off by
// MaxBytesReader during the streaming copy.
func MaxBodyBytes(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":     "request_too_large",
				"max_bytes": limit,
			})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
