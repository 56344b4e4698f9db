// Package assets serves a built single-page-app bundle as the gateway's
// default route. Paths that do not correspond to a file fall back to the
// index document so client-side routing keeps working on hard reloads.
package assets

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Server struct {
	root  http.FileSystem
	files http.Handler
	index string
}

// New serves dir with index fallback. index is relative to dir and
// defaults to index.html.
func New(dir, index string) *Server {
	if index == "" {
		index = "index.html"
	}
	root := http.Dir(dir)
	return &Server{
		root:  root,
		files: http.FileServer(root),
		index: index,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !strings.Contains(path.Base(name), ".") {
			// Looks like an app route, not a missing asset.
			s.serveIndex(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		// Directory listings are never exposed; a directory either has
		// its index served via FileServer or falls back to the app.
		if _, err := s.root.Open(path.Join(name, "index.html")); err != nil {
			s.serveIndex(w, r)
			return
		}
	}
	s.files.ServeHTTP(w, r)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	f, err := s.root.Open("/" + s.index)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	// The shell must never be cached, or deploys strand clients on old
	// bundle hashes.
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, s.index, fi.ModTime(), f)
}

// CheckDir verifies the configured bundle directory exists before the
// gateway starts taking traffic.
func CheckDir(dir string) error {
	fi, err := os.Stat(filepath.Clean(dir))
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.New(dir + " is not a directory")
	}
	return nil
}
