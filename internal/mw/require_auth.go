package mw

import (
	"encoding/json"
	"net/http"
)

type AuthHandler interface {
	ValidateBearer(r *http.Request) (string, error)
}

func RequireAuth(auth AuthHandler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := auth.ValidateBearer(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unauthorized"})
			return
		}
		WithSubject(next, sub).ServeHTTP(w, r)
	})
}
