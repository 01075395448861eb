package readingsarchive

import (
	"net/http"
	"os"
	"path/filepath"
)

// Handler streams the current snapshot. The download name is the base of the
// archive path.
func (g *Generator) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		info, err := g.Fetch(r.Context())
		if err != nil {
			http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
			return
		}
		f, err := os.Open(info.Path)
		if err != nil {
			http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(info.Path)+`"`)
		http.ServeContent(w, r, filepath.Base(info.Path), info.ModTime, f)
	})
}
