package mw

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Recover turns a handler panic into a 500 for that request only, so a
// bug in one request path cannot take the process down. ErrAbortHandler
// is re-raised: it is the server's own signal for a deliberately
// severed connection mid-stream.
func Recover(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("handler panic",
				slog.String("rid", RID(r.Context())),
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal_error"})
		}()
		next.ServeHTTP(w, r)
	})
}
