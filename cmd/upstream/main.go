// A throwaway upstream for local gateway development: echoes request
// details as JSON, optionally after a delay, and serves an SSE drip on
// /events to exercise the streaming path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"
)

func main() {
	var addr string
	var name string
	var delay time.Duration
	flag.StringVar(&addr, "addr", ":30001", "listen address")
	flag.StringVar(&name, "name", "upstream", "service name reported in responses")
	flag.DurationVar(&delay, "delay", 0, "artificial latency before responding")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		t := time.NewTicker(time.Second)
		defer t.Stop()
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-t.C:
				fmt.Fprintf(w, "data: {\"service\":%q,\"seq\":%d}\n\n", name, i)
				fl.Flush()
			}
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service": name,
			"method":  r.Method,
			"path":    r.URL.Path,
			"query":   r.URL.RawQuery,
			"host":    r.Host,
			"headers": r.Header,
		})
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	_ = srv.ListenAndServe()
}
